package config

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort           = 2333
	defaultGatewayPort    = 2330
	defaultEnv            = "development"
	defaultDBHost         = "127.0.0.1"
	defaultDBPort         = 3306
	defaultDBUser         = "root"
	defaultDBName         = "huemap"
	defaultDBCharset      = "utf8mb4"
	defaultDBLoc          = "UTC"
	defaultRedisHost      = "localhost"
	defaultRedisPort      = 6379
	defaultMongoDatabase  = "huemap"
	defaultMongoEvents    = "events"
	defaultTokenTTL       = 7 * 24 * time.Hour
	defaultRefreshGrace   = 3 * time.Minute
	defaultSweepInterval  = time.Hour
	defaultRateLimitMax   = 100
	defaultRateLimitWin   = 60 * time.Second
	defaultVerifyCacheTTL = 15 * time.Minute
)

var ErrMissingJWTSecret = errors.New("jwt_secret is required")

// AppConfig is the normalized runtime configuration.
type AppConfig struct {
	Env            string
	Port           int
	Gateway        GatewayConfig
	Database       DatabaseRuntimeConfig
	Redis          RedisRuntimeConfig
	Mongo          MongoConfig
	JWTSecret      string
	TokenTTL       time.Duration
	RefreshGrace   time.Duration
	SweepInterval  time.Duration
	RateLimit      RateLimitConfig
	VerifyCacheTTL time.Duration
	Services       map[string]string
	AllowedOrigins []string
	SentryDSN      string

	// DSN and RedisURL are derived from Database and Redis.
	DSN      string
	RedisURL string
}

type GatewayConfig struct {
	Port int
}

type DatabaseRuntimeConfig struct {
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	Charset  string
	Loc      string
	Params   map[string]string
}

type RedisRuntimeConfig struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool
}

type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

func (m MongoConfig) Enabled() bool { return m.URI != "" }

type RateLimitConfig struct {
	Max    int64
	Window time.Duration
}

type rawAppConfig struct {
	Env            string            `yaml:"env"`
	Port           int               `yaml:"port"`
	Gateway        rawGatewayConfig  `yaml:"gateway"`
	DSN            string            `yaml:"dsn"`
	RedisURL       string            `yaml:"redis_url"`
	Database       rawDatabaseConfig `yaml:"database"`
	Redis          rawRedisConfig    `yaml:"redis"`
	Mongo          rawMongoConfig    `yaml:"mongo"`
	JWTSecret      string            `yaml:"jwt_secret"`
	TokenTTL       string            `yaml:"token_ttl"`
	RefreshGrace   string            `yaml:"refresh_grace"`
	SweepInterval  string            `yaml:"sweep_interval"`
	RateLimit      rawRateLimit      `yaml:"rate_limit"`
	VerifyCacheTTL string            `yaml:"verify_cache_ttl"`
	Services       map[string]string `yaml:"services"`
	AllowedOrigins []string          `yaml:"allowed_origins"`
	SentryDSN      string            `yaml:"sentry_dsn"`
}

type rawGatewayConfig struct {
	Port int `yaml:"port"`
}

type rawDatabaseConfig struct {
	DSN      string            `yaml:"dsn"`
	Host     string            `yaml:"host"`
	Port     int               `yaml:"port"`
	User     string            `yaml:"user"`
	Password string            `yaml:"password"`
	Name     string            `yaml:"name"`
	Charset  string            `yaml:"charset"`
	Loc      string            `yaml:"loc"`
	Params   map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
	TLS      *bool  `yaml:"tls"`
}

type rawMongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type rawRateLimit struct {
	Max    int64  `yaml:"max"`
	Window string `yaml:"window"`
}

// Load reads configPath (after an optional .env next to it), applies
// HUEMAP_* environment overrides and validates the result.
func Load(configPath string) (*AppConfig, error) {
	path := ResolveConfigPath(configPath)
	loadDotEnv(path)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML content into a validated AppConfig.
func Parse(content []byte) (*AppConfig, error) {
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}
	applyEnvOverrides(&raw)

	cfg := defaultAppConfig()
	if err := applyRawAppConfig(&cfg, raw); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Env:     defaultEnv,
		Port:    defaultPort,
		Gateway: GatewayConfig{Port: defaultGatewayPort},
		Database: DatabaseRuntimeConfig{
			Host:    defaultDBHost,
			Port:    defaultDBPort,
			User:    defaultDBUser,
			Name:    defaultDBName,
			Charset: defaultDBCharset,
			Loc:     defaultDBLoc,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
		},
		Mongo: MongoConfig{
			Database:   defaultMongoDatabase,
			Collection: defaultMongoEvents,
		},
		TokenTTL:       defaultTokenTTL,
		RefreshGrace:   defaultRefreshGrace,
		SweepInterval:  defaultSweepInterval,
		RateLimit:      RateLimitConfig{Max: defaultRateLimitMax, Window: defaultRateLimitWin},
		VerifyCacheTTL: defaultVerifyCacheTTL,
		Services:       map[string]string{},
	}
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if raw.Gateway.Port != 0 {
		cfg.Gateway.Port = raw.Gateway.Port
	}
	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw)
	cfg.Redis = applyRawRedisConfig(cfg.Redis, raw)

	if v := strings.TrimSpace(raw.Mongo.URI); v != "" {
		cfg.Mongo.URI = v
	}
	if v := strings.TrimSpace(raw.Mongo.Database); v != "" {
		cfg.Mongo.Database = v
	}
	if v := strings.TrimSpace(raw.Mongo.Collection); v != "" {
		cfg.Mongo.Collection = v
	}

	cfg.JWTSecret = strings.TrimSpace(raw.JWTSecret)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"token_ttl", raw.TokenTTL, &cfg.TokenTTL},
		{"refresh_grace", raw.RefreshGrace, &cfg.RefreshGrace},
		{"sweep_interval", raw.SweepInterval, &cfg.SweepInterval},
		{"rate_limit.window", raw.RateLimit.Window, &cfg.RateLimit.Window},
		{"verify_cache_ttl", raw.VerifyCacheTTL, &cfg.VerifyCacheTTL},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.raw) == "" {
			continue
		}
		v, err := parseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, d.raw, err)
		}
		*d.dst = v
	}
	if raw.RateLimit.Max != 0 {
		cfg.RateLimit.Max = raw.RateLimit.Max
	}

	cfg.Services = normalizeServices(raw.Services)
	cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	cfg.SentryDSN = strings.TrimSpace(raw.SentryDSN)
	cfg.Env = normalizeEnv(cfg.Env)
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	return nil
}

func applyRawDatabaseConfig(current DatabaseRuntimeConfig, raw rawAppConfig) DatabaseRuntimeConfig {
	cfg := current
	if v := strings.TrimSpace(raw.Database.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(raw.Database.Host); v != "" {
		cfg.Host = v
	}
	if raw.Database.Port != 0 {
		cfg.Port = raw.Database.Port
	}
	if v := strings.TrimSpace(raw.Database.User); v != "" {
		cfg.User = v
	}
	if raw.Database.Password != "" {
		cfg.Password = raw.Database.Password
	}
	if v := strings.TrimSpace(raw.Database.Name); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(raw.Database.Charset); v != "" {
		cfg.Charset = v
	}
	if v := strings.TrimSpace(raw.Database.Loc); v != "" {
		cfg.Loc = v
	}
	if raw.Database.Params != nil {
		cfg.Params = maps.Clone(raw.Database.Params)
	}
	return normalizeDatabaseConfig(cfg)
}

func applyRawRedisConfig(current RedisRuntimeConfig, raw rawAppConfig) RedisRuntimeConfig {
	cfg := current
	if v := strings.TrimSpace(raw.Redis.URL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(raw.RedisURL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(raw.Redis.Host); v != "" {
		cfg.Host = v
	}
	if raw.Redis.Port != 0 {
		cfg.Port = raw.Redis.Port
	}
	if v := strings.TrimSpace(raw.Redis.Username); v != "" {
		cfg.Username = v
	}
	if raw.Redis.Password != "" {
		cfg.Password = raw.Redis.Password
	}
	if raw.Redis.DB != nil {
		cfg.DB = *raw.Redis.DB
	}
	if raw.Redis.TLS != nil {
		cfg.TLS = *raw.Redis.TLS
	}
	return normalizeRedisConfig(cfg)
}

func (c *AppConfig) validate() error {
	ports := []struct {
		key  string
		port int
	}{
		{"port", c.Port},
		{"gateway.port", c.Gateway.Port},
		{"database.port", c.Database.Port},
		{"redis.port", c.Redis.Port},
	}
	for _, p := range ports {
		if p.port < 1 || p.port > 65535 {
			return fmt.Errorf("invalid %s %d, expected 1-65535", p.key, p.port)
		}
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", c.Redis.DB)
	}
	if c.RefreshGrace < 0 {
		return fmt.Errorf("invalid refresh_grace %s, expected >= 0", c.RefreshGrace)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("invalid sweep_interval %s, expected > 0", c.SweepInterval)
	}
	if c.RateLimit.Max < 1 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("invalid rate_limit {max: %d, window: %s}", c.RateLimit.Max, c.RateLimit.Window)
	}
	if c.VerifyCacheTTL <= 0 {
		return fmt.Errorf("invalid verify_cache_ttl %s, expected > 0", c.VerifyCacheTTL)
	}
	return nil
}

// RequireAuthority checks what the session authority needs to start.
func (c *AppConfig) RequireAuthority() error {
	if c.JWTSecret == "" {
		return ErrMissingJWTSecret
	}
	return nil
}

// RequireGateway checks what the gateway needs to start.
func (c *AppConfig) RequireGateway() error {
	if _, ok := c.Services["auth"]; !ok {
		return errors.New(`services.auth is required in gateway mode`)
	}
	return nil
}

func (c *AppConfig) IsDev() bool {
	return c.Env == defaultEnv
}
