package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendNeo4j  = "neo4j"
	BackendMemory = "memory"

	placeholderAudience = "YOUR_API_IDENTIFIER"
)

// Config holds the application's configuration
type Config struct {
	Port     string `mapstructure:"PORT"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	StoreBackend   string `mapstructure:"STORE_BACKEND"`
	Neo4jURI       string `mapstructure:"NEO4J_CONNECTION_STRING"`
	Neo4jUser      string `mapstructure:"NEO4J_USER"`
	Neo4jPassword  string `mapstructure:"NEO4J_PASS"`
	Neo4jDatabase  string `mapstructure:"NEO4J_DATABASE"`
	QueryTimeoutMS int    `mapstructure:"QUERY_TIMEOUT_MS"`

	AuthDomain            string `mapstructure:"AUTH_DOMAIN"`
	AuthAudience          string `mapstructure:"AUTH_AUDIENCE"`
	AuthEmailClaim        string `mapstructure:"AUTH_EMAIL_CLAIM"`
	JWKSRequestsPerMinute int    `mapstructure:"JWKS_REQUESTS_PER_MINUTE"`

	AppOrigin string `mapstructure:"APP_ORIGIN"`
}

var defaults = map[string]any{
	"PORT":                     "3001",
	"LOG_LEVEL":                "info",
	"STORE_BACKEND":            BackendNeo4j,
	"NEO4J_CONNECTION_STRING":  "",
	"NEO4J_USER":               "neo4j",
	"NEO4J_PASS":               "",
	"NEO4J_DATABASE":           "",
	"QUERY_TIMEOUT_MS":         5000,
	"AUTH_DOMAIN":              "",
	"AUTH_AUDIENCE":            "",
	"AUTH_EMAIL_CLAIM":         "email",
	"JWKS_REQUESTS_PER_MINUTE": 15,
	"APP_ORIGIN":               "*",
}

// Load reads .env (if present), an optional config.{yaml,json} file and the
// process environment, in increasing order of precedence.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.AuthDomain = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(cfg.AuthDomain), "https://"), "/")
	cfg.AuthAudience = strings.TrimSpace(cfg.AuthAudience)
	return &cfg, nil
}

// Validate refuses configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.AuthDomain == "" || c.AuthAudience == "" || c.AuthAudience == placeholderAudience {
		return errors.New("AUTH_DOMAIN and AUTH_AUDIENCE must be set to valid values")
	}
	switch c.StoreBackend {
	case BackendNeo4j:
		if strings.TrimSpace(c.Neo4jURI) == "" {
			return errors.New("NEO4J_CONNECTION_STRING is required for the neo4j store backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.QueryTimeoutMS <= 0 {
		return errors.New("QUERY_TIMEOUT_MS must be positive")
	}
	return nil
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}

// Issuer is the expected "iss" claim of access tokens.
func (c *Config) Issuer() string {
	return "https://" + c.AuthDomain + "/"
}

func (c *Config) JWKSURL() string {
	return "https://" + c.AuthDomain + "/.well-known/jwks.json"
}

func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}
