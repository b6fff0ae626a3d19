package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the YAML file.
const (
	EnvJWTSecret = "HUEMAP_JWT_SECRET"
	EnvDSN       = "HUEMAP_DSN"
	EnvRedisURL  = "HUEMAP_REDIS_URL"
	EnvMongoURI  = "HUEMAP_MONGO_URI"
	EnvSentryDSN = "HUEMAP_SENTRY_DSN"
)

// loadDotEnv loads .env from the working directory and from the config
// file's directory. Variables already set in the process win.
func loadDotEnv(configPath string) {
	_ = godotenv.Load()
	if dir := filepath.Dir(configPath); dir != "." {
		_ = godotenv.Load(filepath.Join(dir, ".env"))
	}
}

func applyEnvOverrides(raw *rawAppConfig) {
	overrides := []struct {
		env string
		dst *string
	}{
		{EnvJWTSecret, &raw.JWTSecret},
		{EnvDSN, &raw.DSN},
		{EnvRedisURL, &raw.RedisURL},
		{EnvMongoURI, &raw.Mongo.URI},
		{EnvSentryDSN, &raw.SentryDSN},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.dst = v
		}
	}
}
