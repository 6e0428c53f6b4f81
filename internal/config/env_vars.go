package config

import (
	"fmt"
	"os"
	"strconv"
)

const (
	portEnvVar      = "PORT"
	appNameVar      = "APP_NAME"
	baseURLVar      = "BASE_URL"
	issuerVar       = "ISSUER"
	providersVar    = "PROVIDERS_FILE"
	privateKeyVar   = "JWT_PRIVATE_KEY_PATH"
	autoGenKeysVar  = "AUTO_GENERATE_KEYS"
	redisAddrVar    = "REDIS_ADDR"
	redisUserVar    = "REDIS_USERNAME"
	redisPassVar    = "REDIS_PASSWORD"
	redisDBVar      = "REDIS_DB"
	redisPrefixVar  = "REDIS_PREFIX"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "AuthFace")
}

// GetBaseURL returns the externally visible base URL of this service
// (e.g. "https://auth.example.com"). Redirect URLs given to providers
// are built from it.
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

// GetIssuer is the iss claim stamped on every issued token. Defaults
// to the base URL.
func (e EnvVars) GetIssuer() string {
	return GetEnv(issuerVar, e.GetBaseURL())
}

func (EnvVars) GetProvidersFile() string {
	return GetEnv(providersVar, "./providers.yaml")
}

func (EnvVars) GetPrivateKeyPath() string {
	return GetEnv(privateKeyVar, "")
}

// GetAutoGenerateKeys allows running without a key file; tokens signed
// with a generated key do not survive restarts.
func (EnvVars) GetAutoGenerateKeys() bool {
	return GetEnv(autoGenKeysVar, "false") == "true"
}

// GetRedisAddr selects the durable session backend. Empty means the
// store runs memory only.
func (EnvVars) GetRedisAddr() string {
	return GetEnv(redisAddrVar, "")
}

func (EnvVars) GetRedisUsername() string {
	return GetEnv(redisUserVar, "")
}

func (EnvVars) GetRedisPassword() string {
	return GetEnv(redisPassVar, "")
}

func (EnvVars) GetRedisDB() int {
	db, err := strconv.Atoi(GetEnv(redisDBVar, "0"))
	if err != nil {
		return 0
	}
	return db
}

func (EnvVars) GetRedisPrefix() string {
	return GetEnv(redisPrefixVar, "authface:")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
