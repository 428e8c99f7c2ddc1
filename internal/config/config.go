// Package config loads service configuration from an optional YAML file and
// CREWARCHIVE_* environment variables, environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// HTTP configures the public HTTP listener.
type HTTP struct {
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// GRPC configures the health/reflection listener. Empty addr disables it.
type GRPC struct {
	Addr string `mapstructure:"addr"`
}

// Postgres configures the store. Empty DSN selects the in-memory store,
// which is only suitable for development.
type Postgres struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Auth configures token issuance. The signing secret itself stays in
// CREWARCHIVE_AUTH_SECRET and never passes through this struct.
type Auth struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Config is the full service configuration.
type Config struct {
	Environment string   `mapstructure:"environment"`
	HTTP        HTTP     `mapstructure:"http"`
	GRPC        GRPC     `mapstructure:"grpc"`
	Postgres    Postgres `mapstructure:"postgres"`
	Auth        Auth     `mapstructure:"auth"`
}

// Load reads the configuration. When path is empty only defaults and
// environment variables apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CREWARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 30*time.Second)
	v.SetDefault("http.idle_timeout", 120*time.Second)
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("http.max_body_bytes", int64(1<<20))
	v.SetDefault("http.rate_limit_rps", 50.0)
	v.SetDefault("http.rate_limit_burst", 100)
	v.SetDefault("grpc.addr", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", 20)
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		return errors.New("config: http.addr is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	if c.HTTP.RateLimitRPS <= 0 || c.HTTP.RateLimitBurst <= 0 {
		return errors.New("config: rate limit values must be positive")
	}
	return nil
}
