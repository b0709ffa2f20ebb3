// Package config loads server settings from defaults, an optional
// config.yaml and RONIN_* environment variables, in increasing priority.
// Keys are dotted (store.driver); the environment form upper-cases them and
// replaces dots with underscores (RONIN_STORE_DRIVER).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "RONIN"

type Config struct {
	Port     int
	LogLevel slog.Level

	Store   StoreConfig
	Storage StorageConfig
	Auth    AuthConfig
	GitHub  GitHubConfig
	Kafka   KafkaConfig

	UploadsPerMinute int
}

type StoreConfig struct {
	Driver      string // "sqlite" or "postgres"
	SQLitePath  string
	PostgresDSN string
}

type StorageConfig struct {
	Dir           string
	Bucket        string
	PublicBaseURL string
	SweepInterval time.Duration
	SweepGrace    time.Duration
}

type AuthConfig struct {
	JWTSecret           string
	TokenTTL            time.Duration
	RevocationCacheSize int
}

// GitHubConfig is optional; GitHub sign-in is off when ClientID is empty.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// KafkaConfig is optional; change events are dropped when Brokers is empty.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data/ronin.db")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("storage.dir", "data/storage")
	v.SetDefault("storage.bucket", "post-images")
	v.SetDefault("storage.public_base_url", "http://localhost:8080")
	v.SetDefault("storage.sweep_interval", "1h")
	v.SetDefault("storage.sweep_grace", "24h")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.revocation_cache_size", 10_000)

	v.SetDefault("github.client_id", "")
	v.SetDefault("github.client_secret", "")
	v.SetDefault("github.callback_url", "http://localhost:8080/auth/github/callback")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "ronin-events")
	v.SetDefault("kafka.write_timeout", "10s")

	v.SetDefault("ratelimit.uploads_per_minute", 10)
}

// Load reads the configuration. configPath may name a file; when empty,
// config.yaml is looked up in the working directory and ./config, and a
// missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		return nil, fmt.Errorf("config: log.level: %w", err)
	}

	cfg := &Config{
		Port:     v.GetInt("server.port"),
		LogLevel: level,
		Store: StoreConfig{
			Driver:      strings.ToLower(v.GetString("store.driver")),
			SQLitePath:  v.GetString("store.sqlite_path"),
			PostgresDSN: v.GetString("store.postgres_dsn"),
		},
		Storage: StorageConfig{
			Dir:           v.GetString("storage.dir"),
			Bucket:        v.GetString("storage.bucket"),
			PublicBaseURL: strings.TrimRight(v.GetString("storage.public_base_url"), "/"),
			SweepInterval: v.GetDuration("storage.sweep_interval"),
			SweepGrace:    v.GetDuration("storage.sweep_grace"),
		},
		Auth: AuthConfig{
			JWTSecret:           v.GetString("auth.jwt_secret"),
			TokenTTL:            v.GetDuration("auth.token_ttl"),
			RevocationCacheSize: v.GetInt("auth.revocation_cache_size"),
		},
		GitHub: GitHubConfig{
			ClientID:     v.GetString("github.client_id"),
			ClientSecret: v.GetString("github.client_secret"),
			CallbackURL:  v.GetString("github.callback_url"),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(v.GetStringSlice("kafka.brokers")),
			Topic:        v.GetString("kafka.topic"),
			WriteTimeout: v.GetDuration("kafka.write_timeout"),
		},
		UploadsPerMinute: v.GetInt("ratelimit.uploads_per_minute"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// splitList accepts both a YAML list and a comma-separated env value.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Port)
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("config: store.sqlite_path is required for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("config: store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("config: auth.jwt_secret is required (RONIN_AUTH_JWT_SECRET)")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.token_ttl must be positive")
	}
	if c.Storage.Bucket == "" || c.Storage.Dir == "" {
		return errors.New("config: storage.dir and storage.bucket are required")
	}
	if c.Storage.SweepInterval < 0 || c.Storage.SweepGrace < 0 {
		return errors.New("config: storage sweep durations must not be negative")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka.topic is required when kafka.brokers is set")
	}
	return nil
}
