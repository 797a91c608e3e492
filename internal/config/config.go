// Package config loads the server configuration from YAML and environment
// variables with a predictable priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the root configuration.
// Sources, highest priority first:
//  1. the path passed to Load/MustLoad;
//  2. the CONFIG_PATH environment variable;
//  3. ./local.yaml in the working directory;
//  4. environment variables only.
//
// Environment variables always overlay values read from a file.
type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	HTTP    HTTPConfig    `yaml:"http"`
	Collab  CollabConfig  `yaml:"collab"`
	Storage StorageConfig `yaml:"storage"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
}

// HTTPConfig configures the REST and WebSocket listener.
type HTTPConfig struct {
	Addr              string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT" env-default:"10s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	ClientQueueSize   int           `yaml:"client_queue_size" env:"HTTP_CLIENT_QUEUE_SIZE" env-default:"256"`
}

// CollabConfig holds the engine timeouts.
type CollabConfig struct {
	IdleThreshold time.Duration `yaml:"idle_threshold" env:"IDLE_THRESHOLD" env-default:"5m"`
	CursorTimeout time.Duration `yaml:"cursor_timeout" env:"CURSOR_TIMEOUT" env-default:"30s"`
	ReaperPeriod  time.Duration `yaml:"reaper_period" env:"REAPER_PERIOD" env-default:"60s"`
	MaxClockSkew  time.Duration `yaml:"max_clock_skew" env:"MAX_CLOCK_SKEW" env-default:"5s"`

	// SnapshotEvery saves a snapshot every N changes.
	SnapshotEvery int `yaml:"snapshot_every" env:"SNAPSHOT_EVERY" env-default:"100"`
}

// StorageConfig selects the durable store.
type StorageConfig struct {
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"memory"`
	DSN    string `yaml:"dsn" env:"STORAGE_DSN" env-default:"collab.db"`
}

// RedisConfig configures the presence mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"REDIS_ADDR"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"5m"`
	Timeout  time.Duration `yaml:"timeout" env:"REDIS_TIMEOUT" env-default:"500ms"`

	QueueSize int `yaml:"queue_size" env:"REDIS_QUEUE_SIZE" env-default:"1024"`
	Workers   int `yaml:"workers" env:"REDIS_WORKERS" env-default:"4"`
}

// KafkaConfig configures event export. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	Topic        string        `yaml:"topic" env:"KAFKA_TOPIC" env-default:"collab.events"`
	QueueSize    int           `yaml:"queue_size" env:"KAFKA_QUEUE_SIZE" env-default:"1024"`
	Workers      int           `yaml:"workers" env:"KAFKA_WORKERS" env-default:"2"`
	MaxRetries   int           `yaml:"max_retries" env:"KAFKA_MAX_RETRIES" env-default:"3"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"KAFKA_RETRY_BACKOFF" env-default:"100ms"`
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load reads the configuration by priority and validates it.
func Load(path string) (*Config, error) {
	var cfg Config

	switch {
	case path != "":
		if err := readFile(path, &cfg); err != nil {
			return nil, err
		}
	case os.Getenv("CONFIG_PATH") != "":
		if err := readFile(os.Getenv("CONFIG_PATH"), &cfg); err != nil {
			return nil, err
		}
	case fileExists("local.yaml"):
		if err := readFile("local.yaml", &cfg); err != nil {
			return nil, err
		}
	default:
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read env: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// readFile reads a YAML file and overlays the environment.
func readFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config file %q stat failed: %w", path, err)
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("failed to overlay env: %w", err)
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)

	return err == nil
}

func (c *Config) validate() error {
	var errs []error

	positive := map[string]time.Duration{
		"http.read_header_timeout": c.HTTP.ReadHeaderTimeout,
		"http.shutdown_timeout":    c.HTTP.ShutdownTimeout,
		"collab.idle_threshold":    c.Collab.IdleThreshold,
		"collab.cursor_timeout":    c.Collab.CursorTimeout,
		"collab.reaper_period":     c.Collab.ReaperPeriod,
		"collab.max_clock_skew":    c.Collab.MaxClockSkew,
		"redis.ttl":                c.Redis.TTL,
		"redis.timeout":            c.Redis.Timeout,
		"kafka.retry_backoff":      c.Kafka.RetryBackoff,
	}

	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", name))
		}
	}

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}

	if c.Collab.SnapshotEvery <= 0 {
		errs = append(errs, errors.New("collab.snapshot_every must be > 0"))
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Redis.Addr != "" && (c.Redis.QueueSize <= 0 || c.Redis.Workers <= 0) {
		errs = append(errs, errors.New("redis.queue_size and redis.workers must be > 0"))
	}

	if len(c.Kafka.Brokers) > 0 {
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic is required"))
		}

		if c.Kafka.QueueSize <= 0 || c.Kafka.Workers <= 0 {
			errs = append(errs, errors.New("kafka.queue_size and kafka.workers must be > 0"))
		}

		if c.Kafka.MaxRetries < 0 {
			errs = append(errs, errors.New("kafka.max_retries must be >= 0"))
		}
	}

	return errors.Join(errs...)
}
