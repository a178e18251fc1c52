package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ServiceName    = "recipestock"
	ServiceVersion = "0.1.0"
)

const (
	InventoryFeedTopic = "InventoryFeed"
	OrderEventsTopic   = "OrderEvents"
	GroupID            = "recipestock-group"
	BatchTimeout       = 10 * time.Millisecond
	BatchSize          = 100
)

const (
	LogsPath        = "/otlp/v1/logs"
	TracesPath      = "/otlp/v1/traces"
	MetricsPath     = "/otlp/v1/metrics"
	ExportTimeout   = 30 * time.Second
	MaxQueueSize    = 2048
	MetricsInterval = 15 * time.Second
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Storage   Storage   `yaml:"storage"`
	Kafka     Kafka     `yaml:"kafka"`
	RabbitMQ  RabbitMQ  `yaml:"rabbitmq"`
	Otel      Otel      `yaml:"otel"`
	Inventory Inventory `yaml:"inventory"`
	Orders    Orders    `yaml:"orders"`
}

type HTTP struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Storage struct {
	Driver   string   `yaml:"driver"`
	Postgres Postgres `yaml:"postgres"`
}

type Postgres struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// DSN builds a postgres:// connection URL.
func (p Postgres) DSN() string {
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, sslMode)
	if p.MaxConns > 0 {
		dsn += fmt.Sprintf("&pool_max_conns=%d", p.MaxConns)
	}
	return dsn
}

type Kafka struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	FeedTopic   string `yaml:"feed_topic"`
	EventsTopic string `yaml:"events_topic"`
	GroupID     string `yaml:"group_id"`
}

type RabbitMQ struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type Otel struct {
	Endpoint   string `yaml:"endpoint"`
	AuthHeader string `yaml:"auth_header"`
}

type Inventory struct {
	LockTimeout     time.Duration `yaml:"lock_timeout"`
	CartTTL         time.Duration `yaml:"cart_ttl"`
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

type Orders struct {
	MarkPaidOnConfirm bool `yaml:"mark_paid_on_confirm"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		HTTP: HTTP{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: Storage{
			Driver: DriverMemory,
			Postgres: Postgres{
				Host:     "localhost",
				Port:     "5432",
				User:     "postgres",
				Database: "recipestock",
				SSLMode:  "disable",
			},
		},
		Kafka: Kafka{
			FeedTopic:   InventoryFeedTopic,
			EventsTopic: OrderEventsTopic,
			GroupID:     GroupID,
		},
		RabbitMQ: RabbitMQ{
			Exchange: "recipestock_events",
		},
		Inventory: Inventory{
			LockTimeout:     2 * time.Second,
			CartTTL:         30 * time.Minute,
			JanitorInterval: time.Minute,
		},
	}
}

// LoadConfig reads .env (if present), the YAML file named by CONFIG_PATH (if set)
// and finally environment variable overrides.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var err error
	setString(&cfg.Storage.Driver, "STORAGE_DRIVER")
	setString(&cfg.Storage.Postgres.Host, "DB_HOST")
	setString(&cfg.Storage.Postgres.Port, "DB_PORT")
	setString(&cfg.Storage.Postgres.User, "DB_USER")
	setString(&cfg.Storage.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Storage.Postgres.Database, "DB_NAME")
	setString(&cfg.Storage.Postgres.SSLMode, "DB_SSL_MODE")

	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		cfg.Kafka.Broker = v
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		cfg.RabbitMQ.URL = v
		cfg.RabbitMQ.Enabled = true
	}
	setString(&cfg.Otel.Endpoint, "OTEL_ENDPOINT")
	setString(&cfg.Otel.AuthHeader, "OTEL_AUTH_HEADER")

	if v := os.Getenv("PORT"); v != "" {
		if cfg.HTTP.Port, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("PORT must be an integer: %w", err)
		}
	}
	if v := os.Getenv("MARK_PAID_ON_CONFIRM"); v != "" {
		if cfg.Orders.MarkPaidOnConfirm, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("MARK_PAID_ON_CONFIRM must be a boolean: %w", err)
		}
	}
	if v := os.Getenv("CART_TTL"); v != "" {
		if cfg.Inventory.CartTTL, err = time.ParseDuration(v); err != nil {
			return fmt.Errorf("CART_TTL must be a duration: %w", err)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port >= 65536 {
		return fmt.Errorf("http port must be in [1, 65535]: %d", c.HTTP.Port)
	}
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "" {
			return fmt.Errorf("postgres storage requires host and database")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Kafka.Enabled && c.Kafka.Broker == "" {
		return fmt.Errorf("kafka is enabled but no broker is configured")
	}
	if c.RabbitMQ.Enabled && c.RabbitMQ.URL == "" {
		return fmt.Errorf("rabbitmq is enabled but no url is configured")
	}
	if c.Inventory.LockTimeout <= 0 {
		return fmt.Errorf("inventory lock timeout must be positive")
	}
	if c.Inventory.CartTTL < 0 {
		return fmt.Errorf("cart ttl cannot be negative")
	}
	return nil
}
