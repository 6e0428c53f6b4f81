package config

type Config interface {
	EnvConfig
	AuthConfig
	SecurityConfig
	CorsConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetIssuer() string
	GetProvidersFile() string
	GetPrivateKeyPath() string
	GetAutoGenerateKeys() bool
	GetRedisAddr() string
	GetRedisUsername() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
	GetEnv() string
}

type mainConfig struct {
	EnvVars
	Auth
	Security
	Cors
}

func New() Config {
	return mainConfig{}
}
