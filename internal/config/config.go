// Package config loads and validates roster crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/eld-roster-crawler/internal/backend"
	"github.com/JakeFAU/eld-roster-crawler/internal/retry"
)

// ErrCredentialMissing is returned when an entry point that talks to the
// backend starts without operator credentials.
var ErrCredentialMissing = backend.ErrCredentialMissing

// Storage backends.
const (
	StorageLocal    = "local"
	StorageMemory   = "memory"
	StorageGCS      = "gcs"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Backend BackendConfig `mapstructure:"backend"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gt=0,lte=65535"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// BackendConfig points at the HeroELD REST API.
type BackendConfig struct {
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Username          string        `mapstructure:"username"`
	Password          string        `mapstructure:"password"`
	UserAgent         string        `mapstructure:"user_agent"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RetryAttempts     int           `mapstructure:"retry_attempts" validate:"gte=1,lte=10"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay" validate:"gte=0"`
}

// CrawlConfig governs the aggregation run and its artifact keys.
type CrawlConfig struct {
	EldPlatform     string        `mapstructure:"eld_platform" validate:"required"`
	Pace            time.Duration `mapstructure:"pace" validate:"gte=0"`
	ExcludePrefix   string        `mapstructure:"exclude_prefix"`
	CompaniesKey    string        `mapstructure:"companies_key" validate:"required"`
	OutputKey       string        `mapstructure:"output_key" validate:"required"`
	ActiveOutputKey string        `mapstructure:"active_output_key" validate:"required"`
	AlertsKey       string        `mapstructure:"alerts_key" validate:"required"`
}

// StorageConfig selects and configures the artifact store.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend" validate:"oneof=local memory gcs postgres redis"`
	Local    LocalConfig    `mapstructure:"local"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// LocalConfig configures the filesystem store.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// GCSConfig configures the Cloud Storage store.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PostgresConfig configures the Postgres store.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime" validate:"gte=0"`
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PubSubConfig holds the optional alert fan-out topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROSTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("backend.base_url", backend.DefaultBaseURL)
	v.SetDefault("backend.user_agent", backend.DefaultUserAgent)
	v.SetDefault("backend.timeout", backend.DefaultTimeout)
	v.SetDefault("backend.retry_attempts", backend.DefaultRetryPolicy.Attempts)
	v.SetDefault("backend.retry_initial_delay", backend.DefaultRetryPolicy.InitialDelay)
	v.SetDefault("crawl.eld_platform", "HERO")
	v.SetDefault("crawl.pace", time.Second)
	v.SetDefault("crawl.exclude_prefix", "zzz")
	v.SetDefault("crawl.companies_key", "companies_filtered.json")
	v.SetDefault("crawl.output_key", "companies_with_drivers.json")
	v.SetDefault("crawl.active_output_key", "companies_with_drivers_active.json")
	v.SetDefault("crawl.alerts_key", "alerts.json")
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local.dir", ".")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.prefix", "")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "roster_artifacts")
	v.SetDefault("storage.postgres.max_conns", 4)
	v.SetDefault("storage.postgres.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "roster:")
	// empty defaults make these keys visible to AutomaticEnv on Unmarshal
	v.SetDefault("auth.api_key", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// bindEnv lets the operator credentials come from the historical
// HEROELD_USERNAME/HEROELD_PASSWORD variables as well.
func bindEnv(v *viper.Viper) error {
	if err := v.BindEnv("backend.username", "ROSTER_BACKEND_USERNAME", "HEROELD_USERNAME"); err != nil {
		return fmt.Errorf("bind backend.username: %w", err)
	}
	if err := v.BindEnv("backend.password", "ROSTER_BACKEND_PASSWORD", "HEROELD_PASSWORD"); err != nil {
		return fmt.Errorf("bind backend.password: %w", err)
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return val
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			rule := fe.Tag()
			if fe.Param() != "" {
				rule += "=" + fe.Param()
			}
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s", field, rule))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.Local.Dir == "" {
			return fmt.Errorf("storage.local.dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	case StoragePostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set for the redis backend")
		}
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is")
	}
	return nil
}

// RequireCredentials reports ErrCredentialMissing unless both operator
// credentials are present.
func (c Config) RequireCredentials() error {
	var missing []string
	if c.Backend.Username == "" {
		missing = append(missing, "backend.username (HEROELD_USERNAME)")
	}
	if c.Backend.Password == "" {
		missing = append(missing, "backend.password (HEROELD_PASSWORD)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrCredentialMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ClientConfig converts the backend section into a backend.Config.
func (c BackendConfig) ClientConfig() backend.Config {
	return backend.Config{
		BaseURL: c.BaseURL,
		Credentials: backend.Credentials{
			Username: c.Username,
			Password: c.Password,
		},
		Retry: retry.Policy{
			Attempts:     c.RetryAttempts,
			InitialDelay: c.RetryInitialDelay,
		},
		Timeout:   c.Timeout,
		UserAgent: c.UserAgent,
	}
}
