package config

import "time"

// Config aggregates everything the panel client reads from the environment.
// Values are read once at construction; there is no hot-reload.
type Config interface {
	EnvConfig
	StoreConfig
}

type EnvConfig interface {
	GetAppName() string
	GetAPIBaseURL() string
	GetRealtimeURL() string
	GetRequestTimeout() time.Duration
	GetEnv() string
}

type StoreConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetCredentialKeyPrefix() string
}

type mainConfig struct {
	EnvVars
	Store
}

func New() Config {
	return mainConfig{}
}
