package config

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

const EnvPrefix = "PUSHRELAY"

// ---- Root ----

type Config struct {
	Env        string           `mapstructure:"env"` // dev|test|prod
	Log        LogConfig        `mapstructure:"log"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Storage    StorageConfig    `mapstructure:"storage"`
	MySQL      DatabaseConfig   `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Tenants    TenantsConfig    `mapstructure:"tenants"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
}

// ---- Leaf structs ----

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"` // json|console
}

type HTTPConfig struct {
	Addr           string        `mapstructure:"addr"`
	TrustForwarded bool          `mapstructure:"trust_forwarded"`
	CORSOrigins    []string      `mapstructure:"cors_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"` // mysql|memory
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	PoolSize    int           `mapstructure:"pool_size"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic"`
	GroupID        string        `mapstructure:"group_id"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
}

type DispatcherConfig struct {
	Async          bool          `mapstructure:"async"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
	WorkerCount    int           `mapstructure:"worker_count"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
}

type RateLimitConfig struct {
	Backend   string        `mapstructure:"backend"` // redis|memory
	KeyPrefix string        `mapstructure:"key_prefix"`
	IPRPS     int           `mapstructure:"ip_rps"`
	TenantRPS int           `mapstructure:"tenant_rps"`
	Window    time.Duration `mapstructure:"window"`
}

type TenantsConfig struct {
	// RequireRegistered rejects client registrations for unknown tenants.
	RequireRegistered bool   `mapstructure:"require_registered"`
	DefaultID         string `mapstructure:"default_id"`
	AdminJWTSecret    string `mapstructure:"admin_jwt_secret"`
}

type RelayConfig struct {
	ValidateSignatures bool          `mapstructure:"validate_signatures"`
	PublicKey          string        `mapstructure:"public_key"` // hex ed25519
	MaxClockSkew       time.Duration `mapstructure:"max_clock_skew"`
}

type BreakerConfig struct {
	FailThreshold int           `mapstructure:"fail_threshold"`
	OpenFor       time.Duration `mapstructure:"open_for"`
}

type APNSProviderConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Topic       string `mapstructure:"topic"`
	Sandbox     bool   `mapstructure:"sandbox"`
	KeyID       string `mapstructure:"key_id"`
	TeamID      string `mapstructure:"team_id"`
	PKCS8File   string `mapstructure:"pkcs8_file"`
	Certificate string `mapstructure:"certificate"` // base64 PKCS#12
	Password    string `mapstructure:"certificate_password"`
}

type FCMProviderConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

type FCMV1ProviderConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type ProvidersConfig struct {
	Timeout  time.Duration       `mapstructure:"timeout"`
	CacheTTL time.Duration       `mapstructure:"cache_ttl"`
	Breaker  BreakerConfig       `mapstructure:"breaker"`
	APNS     APNSProviderConfig  `mapstructure:"apns"`
	FCM      FCMProviderConfig   `mapstructure:"fcm"`
	FCMV1    FCMV1ProviderConfig `mapstructure:"fcm_v1"`
}

// AllowNoop reports whether the in-memory noop provider may be used.
func (c Config) AllowNoop() bool {
	return c.Env == "dev" || c.Env == "test"
}

// Validate rejects combinations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Env {
	case "dev", "test", "prod":
	default:
		errs = append(errs, fmt.Errorf("env: unknown value %q", c.Env))
	}
	switch c.Storage.Backend {
	case "memory":
	case "mysql":
		if c.MySQL.DSN == "" {
			errs = append(errs, errors.New("mysql.dsn: required for mysql storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown value %q", c.Storage.Backend))
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend: unknown value %q", c.RateLimit.Backend))
	}
	if c.Relay.ValidateSignatures {
		raw, err := hex.DecodeString(c.Relay.PublicKey)
		if err != nil || len(raw) != 32 {
			errs = append(errs, errors.New("relay.public_key: must be a hex encoded ed25519 key"))
		}
	}
	if c.Dispatcher.Async && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers: required when dispatcher.async is set"))
	}
	return errors.Join(errs...)
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (PUSHRELAY_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("merge %s: %w", path, err)
			}
		}
	}

	// env override, PUSHRELAY_RATE_LIMIT_IP_RPS -> rate_limit.ip_rps
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
