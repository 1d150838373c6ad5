package config

import "strconv"

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	db, err := strconv.Atoi(GetEnv("REDIS_DB", "0"))
	if err != nil {
		return 0
	}
	return db
}

// GetCredentialKeyPrefix returns the key prefix under which the persisted
// session material is stored. Each field (access token, refresh token,
// principal) lives under its own key below this prefix.
func (Store) GetCredentialKeyPrefix() string {
	return GetEnv("CREDENTIAL_KEY_PREFIX", "panelclient:session")
}
