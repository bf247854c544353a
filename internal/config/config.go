package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the daemon configuration, read from environment variables.
type Config struct {
	DBPath       string
	DiscordToken string // empty means guilds are enumerated from the store

	CycleInterval time.Duration // must not exceed the announce tolerance
	Lookahead     int           // upcoming events fetched per guild per cycle
	CallTimeout   time.Duration

	CredentialsKey string // 32-byte key, hex encoded
}

// Load returns the daemon configuration from environment variables.
func Load() Config {
	return Config{
		DBPath:         getEnv("DB_PATH", "herald.db"),
		DiscordToken:   getEnv("DISCORD_TOKEN", ""),
		CycleInterval:  time.Duration(getEnvInt("CYCLE_INTERVAL_MINUTES", 4)) * time.Minute,
		Lookahead:      getEnvInt("LOOKAHEAD_EVENTS", 15),
		CallTimeout:    time.Duration(getEnvInt("CALL_TIMEOUT_SECONDS", 30)) * time.Second,
		CredentialsKey: getEnv("CREDENTIALS_KEY", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
