package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	ConfigPathEnvVar  = "CONFIG_PATH"
	defaultConfigPath = "config.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Executor  ExecutorConfig  `koanf:"executor"`
	Delivery  DeliveryConfig  `koanf:"delivery"`
	Storage   StorageConfig   `koanf:"storage"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Address string `koanf:"address"`
}

type DatabaseConfig struct {
	PostgresURL string `koanf:"postgres_url"`
}

type RedisConfig struct {
	Address    string `koanf:"address"`
	Password   string `koanf:"password"`
	DB         int    `koanf:"db"`
	TTLSeconds int    `koanf:"ttl_seconds"`
}

func (r RedisConfig) Enabled() bool { return r.Address != "" }

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

type SchedulerConfig struct {
	Spec      string `koanf:"spec"`
	AutoStart bool   `koanf:"autostart"`
}

type ExecutorConfig struct {
	WindowPast      time.Duration `koanf:"window_past"`
	WindowFuture    time.Duration `koanf:"window_future"`
	ExecutionBuffer time.Duration `koanf:"execution_buffer"`
	MinAudioBytes   int           `koanf:"min_audio_bytes"`
	RecentLimit     int           `koanf:"recent_limit"`
}

type DeliveryConfig struct {
	HTTPTimeout        time.Duration `koanf:"http_timeout"`
	RatePerSec         float64       `koanf:"rate_per_sec"`
	BreakerEnabled     bool          `koanf:"breaker_enabled"`
	BreakerFailures    int           `koanf:"breaker_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

type StorageConfig struct {
	// Provider is s3, local or none.
	Provider  string `koanf:"provider"`
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	PathStyle bool   `koanf:"path_style"`
	LocalDir  string `koanf:"local_dir"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Address: ":8080"},
		Redis:  RedisConfig{TTLSeconds: 86400},
		Scheduler: SchedulerConfig{
			Spec:      "@every 1m",
			AutoStart: true,
		},
		Executor: ExecutorConfig{
			WindowPast:      30 * time.Minute,
			WindowFuture:    30 * time.Minute,
			ExecutionBuffer: 5 * time.Second,
			MinAudioBytes:   100,
			RecentLimit:     5,
		},
		Delivery: DeliveryConfig{
			HTTPTimeout:        30 * time.Second,
			BreakerEnabled:     true,
			BreakerFailures:    5,
			BreakerOpenTimeout: time.Minute,
		},
		Storage: StorageConfig{
			Provider:  "none",
			Region:    "us-east-1",
			PathStyle: true,
			LocalDir:  "./data/audio",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// envMappings maps environment variable names to config paths. Variables
// not listed here are ignored.
var envMappings = map[string]string{
	"SERVER_ADDRESS":        "server.address",
	"POSTGRES_URL":          "database.postgres_url",
	"REDIS_ADDR":            "redis.address",
	"REDIS_PASSWORD":        "redis.password",
	"REDIS_DB":              "redis.db",
	"REDIS_TTL_SECONDS":     "redis.ttl_seconds",
	"SCHED_SPEC":            "scheduler.spec",
	"SCHED_AUTOSTART":       "scheduler.autostart",
	"WINDOW_PAST":           "executor.window_past",
	"WINDOW_FUTURE":         "executor.window_future",
	"EXECUTION_BUFFER":      "executor.execution_buffer",
	"MIN_AUDIO_BYTES":       "executor.min_audio_bytes",
	"RECENT_LIMIT":          "executor.recent_limit",
	"HTTP_TIMEOUT":          "delivery.http_timeout",
	"DELIVERY_RATE_PER_SEC": "delivery.rate_per_sec",
	"BREAKER_ENABLED":       "delivery.breaker_enabled",
	"BREAKER_FAILURES":      "delivery.breaker_failures",
	"BREAKER_OPEN_TIMEOUT":  "delivery.breaker_open_timeout",
	"STORAGE_PROVIDER":      "storage.provider",
	"S3_ENDPOINT":           "storage.endpoint",
	"S3_REGION":             "storage.region",
	"S3_BUCKET":             "storage.bucket",
	"S3_ACCESS_KEY":         "storage.access_key",
	"S3_SECRET_KEY":         "storage.secret_key",
	"S3_PATH_STYLE":         "storage.path_style",
	"LOCAL_STORAGE_DIR":     "storage.local_dir",
	"LOG_LEVEL":             "logging.level",
	"LOG_FORMAT":            "logging.format",
}

func envTransformFunc(key string) string {
	return envMappings[strings.ToUpper(key)]
}

// LoadAll layers defaults, an optional YAML file and the environment, in
// increasing precedence, then validates the result.
func LoadAll() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Database.PostgresURL == "" {
		errs = append(errs, errors.New("missing required env var: POSTGRES_URL"))
	}
	if strings.TrimSpace(cfg.Scheduler.Spec) == "" {
		errs = append(errs, errors.New("SCHED_SPEC must not be empty"))
	}
	if cfg.Executor.WindowPast <= 0 {
		errs = append(errs, errors.New("WINDOW_PAST must be > 0"))
	}
	if cfg.Executor.WindowFuture <= 0 {
		errs = append(errs, errors.New("WINDOW_FUTURE must be > 0"))
	}
	if cfg.Executor.ExecutionBuffer < 0 {
		errs = append(errs, errors.New("EXECUTION_BUFFER must be >= 0"))
	}
	if cfg.Executor.MinAudioBytes <= 0 {
		errs = append(errs, errors.New("MIN_AUDIO_BYTES must be > 0"))
	}
	if cfg.Delivery.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must be > 0"))
	}
	if cfg.Delivery.RatePerSec < 0 {
		errs = append(errs, errors.New("DELIVERY_RATE_PER_SEC must be >= 0"))
	}
	if cfg.Delivery.BreakerEnabled && cfg.Delivery.BreakerFailures <= 0 {
		errs = append(errs, errors.New("BREAKER_FAILURES must be > 0"))
	}
	if cfg.Redis.Enabled() && cfg.Redis.TTLSeconds <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}

	switch cfg.Storage.Provider {
	case "none", "":
	case "local":
		if cfg.Storage.LocalDir == "" {
			errs = append(errs, errors.New("LOCAL_STORAGE_DIR is required for local storage"))
		}
	case "s3":
		if cfg.Storage.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_PROVIDER must be s3, local or none, got %q", cfg.Storage.Provider))
	}

	return errors.Join(errs...)
}
