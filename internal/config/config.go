package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds the HTTP surface settings
type AppConfig struct {
	Port              string
	LogLevel          string
	OperatorJWTSecret string
}

// DBConfig holds the Postgres connection settings
type DBConfig struct {
	URL         string
	MaxOpenConn int
	ConnMaxIdle time.Duration
	CallTimeout time.Duration
}

// WorkerConfig controls the delivery processor and its in-process trigger
type WorkerConfig struct {
	Interval       time.Duration
	BatchSize      int
	FanOutLimit    int
	SendTimeout    time.Duration
	LeaseDuration  time.Duration
	RunDeadline    time.Duration
	ClaimCutoff    time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	StaleRunWindow time.Duration
}

// SMTPConfig holds the email channel settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// TelegramConfig holds the Telegram channel settings. An empty token disables the channel.
type TelegramConfig struct {
	Token   string
	BaseURL string
}

// KafkaConfig holds broker settings. No brokers disables both producer and consumer.
type KafkaConfig struct {
	Brokers       []string
	OutcomeTopic  string
	RequeueTopic  string
	ConsumerGroup string
}

// TracingConfig holds the OTLP exporter settings. An empty endpoint disables tracing.
type TracingConfig struct {
	ServiceName string
	Environment string
	Endpoint    string
	SampleRatio float64
}

// Config is the full service configuration
type Config struct {
	AppCfg        AppConfig
	DBConfig      DBConfig
	NotifDBConfig DBConfig
	Worker        WorkerConfig
	SMTP          SMTPConfig
	Telegram      TelegramConfig
	Kafka         KafkaConfig
	Tracing       TracingConfig
}

// LoadConfig reads configuration from the environment, loading a .env file first if one exists.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppCfg: AppConfig{
			Port:              getEnv("APP_PORT", "8080"),
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			OperatorJWTSecret: getEnv("OPERATOR_JWT_SECRET", ""),
		},
		DBConfig: DBConfig{
			URL:         getEnv("DATABASE_URL", ""),
			MaxOpenConn: getEnvInt("DB_MAX_OPEN", 10),
			ConnMaxIdle: getEnvDuration("DB_CONN_IDLE", 5*time.Minute),
			CallTimeout: getEnvDuration("DB_CALL_TIMEOUT", 3*time.Second),
		},
		NotifDBConfig: DBConfig{
			URL:         getEnv("NOTIF_DB_URL", ""),
			MaxOpenConn: getEnvInt("NOTIF_DB_MAX_OPEN", 5),
			ConnMaxIdle: getEnvDuration("NOTIF_DB_CONN_IDLE", 5*time.Minute),
			CallTimeout: getEnvDuration("NOTIF_DB_CALL_TIMEOUT", 3*time.Second),
		},
		Worker: WorkerConfig{
			Interval:       getEnvDuration("WORKER_INTERVAL", time.Minute),
			BatchSize:      getEnvInt("BATCH_SIZE", 100),
			FanOutLimit:    getEnvInt("FANOUT_LIMIT", 8),
			SendTimeout:    getEnvDuration("SEND_TIMEOUT", 5*time.Second),
			LeaseDuration:  getEnvDuration("LEASE_DURATION", 2*time.Minute),
			RunDeadline:    getEnvDuration("RUN_DEADLINE", 50*time.Second),
			ClaimCutoff:    getEnvDuration("CLAIM_CUTOFF", 10*time.Second),
			MaxAttempts:    getEnvInt("MAX_ATTEMPTS", 1),
			RetryBackoff:   getEnvDuration("RETRY_BACKOFF", 5*time.Minute),
			StaleRunWindow: getEnvDuration("STALE_RUN_WINDOW", 10*time.Minute),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "keepsakes@localhost"),
		},
		Telegram: TelegramConfig{
			Token:   getEnv("TELEGRAM_TOKEN", ""),
			BaseURL: getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS"),
			OutcomeTopic:  getEnv("KAFKA_OUTCOME_TOPIC", "keepsake.outcome"),
			RequeueTopic:  getEnv("KAFKA_REQUEUE_TOPIC", "keepsake.requeue"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "keepsake-processor"),
		},
		Tracing: TracingConfig{
			ServiceName: getEnv("OTEL_SERVICE_NAME", "keepsake-processor"),
			Environment: getEnv("ENVIRONMENT", "development"),
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SampleRatio: getEnvFloat("OTEL_TRACE_SAMPLE_RATIO", 1.0),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings the processor cannot run without
func (c *Config) Validate() error {
	if c.DBConfig.URL == "" {
		return &ConfigError{Field: "DATABASE_URL", Message: "must be set"}
	}
	if c.NotifDBConfig.URL == "" {
		c.NotifDBConfig.URL = c.DBConfig.URL
	}
	w := c.Worker
	if w.BatchSize <= 0 {
		return &ConfigError{Field: "BATCH_SIZE", Message: "must be positive"}
	}
	if w.FanOutLimit <= 0 {
		return &ConfigError{Field: "FANOUT_LIMIT", Message: "must be positive"}
	}
	if w.MaxAttempts < 1 {
		return &ConfigError{Field: "MAX_ATTEMPTS", Message: "must be at least 1"}
	}
	if w.SendTimeout <= 0 || w.LeaseDuration <= 0 {
		return &ConfigError{Field: "SEND_TIMEOUT", Message: "send timeout and lease duration must be positive"}
	}
	// the lease is renewed per send, so one renewal must cover a send and the status write after it
	if w.LeaseDuration <= w.SendTimeout+c.DBConfig.CallTimeout {
		return &ConfigError{Field: "LEASE_DURATION", Message: "must exceed SEND_TIMEOUT plus DB_CALL_TIMEOUT"}
	}
	if w.RunDeadline > 0 && w.ClaimCutoff >= w.RunDeadline {
		return &ConfigError{Field: "CLAIM_CUTOFF", Message: "must be shorter than RUN_DEADLINE"}
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.OutcomeTopic == "" || c.Kafka.RequeueTopic == "") {
		return &ConfigError{Field: "KAFKA_OUTCOME_TOPIC", Message: "topics must be set when brokers are configured"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
