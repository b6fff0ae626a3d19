package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// orDefault returns def when v is the zero value.
func orDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func normalizeDatabaseConfig(cfg DatabaseRuntimeConfig) DatabaseRuntimeConfig {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Host = orDefault(strings.TrimSpace(cfg.Host), defaultDBHost)
	cfg.Port = orDefault(cfg.Port, defaultDBPort)
	cfg.User = orDefault(strings.TrimSpace(cfg.User), defaultDBUser)
	cfg.Name = orDefault(strings.TrimSpace(cfg.Name), defaultDBName)
	cfg.Charset = orDefault(strings.TrimSpace(cfg.Charset), defaultDBCharset)
	cfg.Loc = orDefault(strings.TrimSpace(cfg.Loc), defaultDBLoc)
	return cfg
}

// normalizeRedisConfig only defaults the host when no URL was given.
func normalizeRedisConfig(cfg RedisRuntimeConfig) RedisRuntimeConfig {
	cfg.URL = normalizeRedisRawURL(cfg.URL)
	cfg.Host = strings.TrimSpace(cfg.Host)
	cfg.Username = strings.TrimSpace(cfg.Username)
	if cfg.URL == "" {
		cfg.Host = orDefault(cfg.Host, defaultRedisHost)
	}
	cfg.Port = orDefault(cfg.Port, defaultRedisPort)
	return cfg
}

func normalizeRedisRawURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "redis://") || strings.HasPrefix(trimmed, "rediss://") {
		return trimmed
	}
	return "redis://" + trimmed
}

// normalizeServices lower-cases logical names and drops blank entries.
func normalizeServices(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for name, base := range in {
		n := strings.ToLower(strings.TrimSpace(name))
		b := strings.TrimRight(strings.TrimSpace(base), "/")
		if n != "" && b != "" {
			out[n] = b
		}
	}
	return out
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// normalizeEnv folds the short aliases "dev" and "prod".
func normalizeEnv(env string) string {
	switch e := strings.ToLower(strings.TrimSpace(env)); e {
	case "", "dev":
		return defaultEnv
	case "prod":
		return "production"
	default:
		return e
	}
}

// parseDuration accepts Go durations plus a whole-day suffix, e.g. "7d".
func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("bad day count")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
