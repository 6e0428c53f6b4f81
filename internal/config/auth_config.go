package config

import "time"

type AuthConfig interface {
	GetTokenTTL() time.Duration
	GetSessionTTL() time.Duration
	GetFlowTTL() time.Duration
	GetSweepInterval() time.Duration
}

type Auth struct{}

var _ AuthConfig = Auth{}

func (Auth) GetTokenTTL() time.Duration {
	return getDuration("TOKEN_TTL", 15*time.Minute)
}

func (Auth) GetSessionTTL() time.Duration {
	return getDuration("SESSION_TTL", 24*time.Hour)
}

// GetFlowTTL bounds how long a login redirect stays redeemable.
func (Auth) GetFlowTTL() time.Duration {
	return getDuration("FLOW_TTL", 10*time.Minute)
}

func (Auth) GetSweepInterval() time.Duration {
	return getDuration("SWEEP_INTERVAL", time.Minute)
}

func getDuration(envVar string, defaultValue time.Duration) time.Duration {
	raw := GetEnv(envVar, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
