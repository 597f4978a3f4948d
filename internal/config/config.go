package config

import (
	"time"

	"chatroom-backend/pkg/constants"
	"chatroom-backend/pkg/env"
)

// Config holds environment-driven service configuration
type Config struct {
	Env  string
	Port string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisHost     string
	RedisPort     int
	RedisPassword string

	JWTSecret string

	RingTimeout time.Duration

	PushProvider      string
	FCMProjectID      string
	FCMCredentials    string
	APNsKeyPath       string
	APNsKeyID         string
	APNsTeamID        string
	APNsBundleID      string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment (or Docker secrets via
// the _FILE convention).
func Load() *Config {
	return &Config{
		Env:  env.GetString("ENV", "development"),
		Port: env.GetString("PORT", "8083"),

		DBHost:     env.GetString("DB_HOST", "localhost"),
		DBPort:     env.GetInt("DB_PORT", 26257),
		DBUser:     env.GetString("DB_USER", "root"),
		DBPassword: env.GetStringFromFile("DB_PASSWORD", ""),
		DBName:     env.GetString("DB_NAME", "chatroom"),
		DBSSLMode:  env.GetString("DB_SSLMODE", "disable"),

		RedisHost:     env.GetString("REDIS_HOST", "localhost"),
		RedisPort:     env.GetInt("REDIS_PORT", 6379),
		RedisPassword: env.GetStringFromFile("REDIS_PASSWORD", ""),

		JWTSecret: env.GetStringFromFile("JWT_SECRET", ""),

		RingTimeout: env.GetDuration("CALL_RING_TIMEOUT", constants.DefaultRingTimeout),

		PushProvider:   env.GetString("PUSH_PROVIDER", "none"),
		FCMProjectID:   env.GetStringFromFile("FIREBASE_PROJECT_ID", ""),
		FCMCredentials: env.GetString("FIREBASE_CREDENTIALS_PATH", ""),
		APNsKeyPath:    env.GetString("APNS_KEY_PATH", ""),
		APNsKeyID:      env.GetStringFromFile("APNS_KEY_ID", ""),
		APNsTeamID:     env.GetStringFromFile("APNS_TEAM_ID", ""),
		APNsBundleID:   env.GetString("APNS_BUNDLE_ID", ""),

		LogLevel:  env.GetString("LOG_LEVEL", "info"),
		LogFormat: env.GetString("LOG_FORMAT", "json"),
	}
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
