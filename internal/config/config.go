package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ms-ticket-gate/internal/models"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Tickets TicketConfig  `yaml:"tickets"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Admin   AdminConfig   `yaml:"admin"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type TicketConfig struct {
	// SigningSecret is never logged or returned from the API.
	SigningSecret  string        `yaml:"signing_secret"`
	Types          []string      `yaml:"types"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	NameMinLength  int           `yaml:"name_min_length"`
	QRSize         int           `yaml:"qr_size"`
	NotifyTimeout  time.Duration `yaml:"notify_timeout"`
}

type StoreConfig struct {
	Backend     string        `yaml:"backend"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	AutoMigrate bool          `yaml:"auto_migrate"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	TopicIssued   string   `yaml:"topic_issued"`
	TopicRedeemed string   `yaml:"topic_redeemed"`
}

type AdminConfig struct {
	Token string `yaml:"token"`
}

type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

func defaults() *Config {
	types := make([]string, 0, len(models.DefaultTicketTypes))
	for _, t := range models.DefaultTicketTypes {
		types = append(types, string(t))
	}

	return &Config{
		Server: ServerConfig{
			Port:            ":8084",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Tickets: TicketConfig{
			Types:          types,
			IdempotencyTTL: 24 * time.Hour,
			NameMinLength:  2,
			QRSize:         256,
			NotifyTimeout:  10 * time.Second,
		},
		Store: StoreConfig{
			Backend:     BackendPostgres,
			AutoMigrate: true,
			Timeout:     5 * time.Second,
			MaxRetries:  5,
		},
		Kafka: KafkaConfig{
			TopicIssued:   "tickets.issued",
			TopicRedeemed: "tickets.redeemed",
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Load builds the process configuration: defaults, then the optional YAML
// file named by CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)

	c.Tickets.SigningSecret = getEnv("SIGNING_SECRET", c.Tickets.SigningSecret)
	c.Tickets.Types = getEnvList("TICKET_TYPES", c.Tickets.Types)
	c.Tickets.IdempotencyTTL = getEnvDuration("IDEMPOTENCY_TTL", c.Tickets.IdempotencyTTL)
	c.Tickets.NameMinLength = getEnvInt("NAME_MIN_LENGTH", c.Tickets.NameMinLength)
	c.Tickets.QRSize = getEnvInt("QR_SIZE", c.Tickets.QRSize)
	c.Tickets.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", c.Tickets.NotifyTimeout)

	c.Store.Backend = strings.ToLower(getEnv("STORE_BACKEND", c.Store.Backend))
	c.Store.PostgresDSN = getEnv("POSTGRES_DSN", c.Store.PostgresDSN)
	c.Store.AutoMigrate = getEnvBool("AUTO_MIGRATE", c.Store.AutoMigrate)
	c.Store.Timeout = getEnvDuration("STORE_TIMEOUT", c.Store.Timeout)
	c.Store.MaxRetries = getEnvInt("DB_MAX_RETRIES", c.Store.MaxRetries)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)

	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicIssued = getEnv("KAFKA_TOPIC_ISSUED", c.Kafka.TopicIssued)
	c.Kafka.TopicRedeemed = getEnv("KAFKA_TOPIC_REDEEMED", c.Kafka.TopicRedeemed)

	c.Admin.Token = getEnv("ADMIN_TOKEN", c.Admin.Token)

	c.Logging.Dir = getEnv("LOG_DIR", c.Logging.Dir)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
}

// Validate reports missing or inconsistent settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Tickets.SigningSecret == "" {
		errs = append(errs, errors.New("SIGNING_SECRET not set"))
	}
	if len(c.Tickets.Types) == 0 {
		errs = append(errs, errors.New("TICKET_TYPES must list at least one ticket type"))
	}
	if c.Tickets.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be positive"))
	}
	if c.Tickets.NameMinLength < 1 {
		errs = append(errs, errors.New("NAME_MIN_LENGTH must be at least 1"))
	}
	if c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT must be positive"))
	}

	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("POSTGRES_DSN not set"))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	return errors.Join(errs...)
}

// TicketTypes returns the configured enumeration in canonical form.
func (c *Config) TicketTypes() []models.TicketType {
	types := make([]models.TicketType, 0, len(c.Tickets.Types))
	for _, t := range c.Tickets.Types {
		types = append(types, models.NormalizeTicketType(t))
	}
	return types
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
