package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authface/authface/internal/config"
	"github.com/authface/authface/tier"
)

const providersYAML = `
providers:
  - name: github
    client_id: client-1
    client_secret: secret-1
    auth_url: https://github.com/login/oauth/authorize
    token_url: https://github.com/login/oauth/access_token
    userinfo_url: https://api.github.com/user
    redirect_url: http://localhost:8080/callback/github
    scopes: [read:user, user:email]
    use_pkce: true
  - name: google
    client_id: client-2
    client_secret: secret-2
    issuer_url: https://accounts.google.com
    redirect_url: http://localhost:8080/callback/google
tiers:
  github:
    subjects:
      "77": admin
  google:
    email_domains:
      company.com: preferred
`

func TestLoadProvidersFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(providersYAML), 0o600))

	file, err := config.LoadProvidersFile(path)
	require.NoError(t, err)
	require.Len(t, file.Providers, 2)

	require.Equal(t, "github", file.Providers[0].Name)
	require.True(t, file.Providers[0].UsePKCE)
	require.Equal(t, "https://api.github.com/user", file.Providers[0].UserInfoURL)
	require.Equal(t, "https://accounts.google.com", file.Providers[1].IssuerURL)

	rules := file.TierRules()
	require.Equal(t, tier.TierAdmin, rules["github"].Subjects["77"])
	require.Equal(t, tier.TierPreferred, rules["google"].EmailDomains["company.com"])
}

func TestLoadProvidersFileMissing(t *testing.T) {
	_, err := config.LoadProvidersFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestParseProvidersFileRejectsUnknownTier(t *testing.T) {
	_, err := config.ParseProvidersFile([]byte(`
providers:
  - name: github
    client_id: c
    redirect_url: http://localhost/cb
    auth_url: a
    token_url: b
    userinfo_url: u
tiers:
  github:
    subjects:
      "1": superuser
`))
	require.Error(t, err)
}

func TestParseProvidersFileRejectsEmpty(t *testing.T) {
	_, err := config.ParseProvidersFile([]byte("tiers: {}\n"))
	require.Error(t, err)
}

func TestAuthConfigDefaults(t *testing.T) {
	cfg := config.New()
	require.Equal(t, "15m0s", cfg.GetTokenTTL().String())
	require.Equal(t, "24h0m0s", cfg.GetSessionTTL().String())
	require.Equal(t, "10m0s", cfg.GetFlowTTL().String())
	require.Equal(t, "1m0s", cfg.GetSweepInterval().String())
}

func TestAuthConfigFromEnv(t *testing.T) {
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("SESSION_TTL", "not-a-duration")

	cfg := config.New()
	require.Equal(t, "30m0s", cfg.GetTokenTTL().String())
	// Unparseable values fall back instead of failing startup.
	require.Equal(t, "24h0m0s", cfg.GetSessionTTL().String())
}

func TestEnvVarsPort(t *testing.T) {
	t.Setenv("PORT", "9000")
	require.Equal(t, ":9000", config.New().GetPort())
}

func TestCorsAllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://admin.example.com")
	origins := config.New().GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("https://app.example.com"))
	require.True(t, origins.IsAllowedOrigin("https://admin.example.com"))
	require.False(t, origins.IsAllowedOrigin("https://evil.example.com"))
}
