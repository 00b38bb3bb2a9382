package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBFile         string
	FeedURL        string
	UserID         string
	ReconnectDelay time.Duration
	SettleDelay    time.Duration
	ProfileTTL     time.Duration
}

func Load() (*Config, error) {
	reconnectDelay, err := time.ParseDuration(getEnv("RECONNECT_DELAY", "2s"))
	if err != nil {
		return nil, err
	}

	settleDelay, err := time.ParseDuration(getEnv("SETTLE_DELAY", "1s"))
	if err != nil {
		return nil, err
	}

	profileTTL, err := time.ParseDuration(getEnv("PROFILE_TTL", "5m"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:         getEnv("LIVESYNC_DB", "livesync.db"),
		FeedURL:        getEnv("FEED_URL", "ws://localhost:8080/feed"),
		UserID:         os.Getenv("USER_ID"),
		ReconnectDelay: reconnectDelay,
		SettleDelay:    settleDelay,
		ProfileTTL:     profileTTL,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("USER_ID is required")
	}

	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("RECONNECT_DELAY must be greater than 0")
	}

	if c.SettleDelay <= 0 {
		return fmt.Errorf("SETTLE_DELAY must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
