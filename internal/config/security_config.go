package config

type SecurityConfig interface {
	GetRequireLiveSession() bool
}

type Security struct{}

var _ SecurityConfig = Security{}

// GetRequireLiveSession makes token verification also check that the
// backing session still exists, so logout revokes outstanding tokens.
// Off by default: verification stays purely cryptographic.
func (Security) GetRequireLiveSession() bool {
	return GetEnv("AUTH_REQUIRE_LIVE_SESSION", "false") == "true"
}
