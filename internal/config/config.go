// Package config provides application configuration loaded from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	App      AppConfig
	Redis    RedisConfig
	Broker   BrokerConfig
	Outbox   OutboxConfig
	Budget   BudgetConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DatabaseConfig holds connection settings. Driver is "postgres" or "sqlite";
// for sqlite, DBName is the file path.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Migration modes.
const (
	MigrationsOff  = "off"
	MigrationsAuto = "auto"
	MigrationsSQL  = "sql"
)

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev        bool
	Migrations string // off, auto (gorm AutoMigrate) or sql (golang-migrate)
	Seed       bool
	CacheTTL   time.Duration
}

// RedisConfig enables the distributed pool lock when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// Enabled reports whether a redis server is configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// BrokerConfig configures the AMQP publisher. An empty URL selects the log publisher.
type BrokerConfig struct {
	URL      string
	Exchange string
}

// OutboxConfig drives the outbox relay.
type OutboxConfig struct {
	Schedule    string
	BatchSize   int
	MaxAttempts int
}

// BudgetConfig holds the fund-accounting policy knobs.
type BudgetConfig struct {
	TransferApprovalThreshold decimal.Decimal
	HighBurnRate              float64
	CriticalExpirationDays    int
}

// DSN returns the PostgreSQL connection string in key=value format.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "assistance"),
			Password: getEnv("DB_PASSWORD", "assistance123"),
			DBName:   getEnv("DB_NAME", "assistance"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		App: AppConfig{
			Dev:        getEnvBool("DEV", true),
			Migrations: migrationMode(os.Getenv("MIGRATIONS")),
			Seed:       getEnvBool("DB_SEED", true),
			CacheTTL:   getEnvDuration("PROFILE_CACHE_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			LockTTL:  getEnvDuration("POOL_LOCK_TTL", 10*time.Second),
		},
		Broker: BrokerConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "assistance.events"),
		},
		Outbox: OutboxConfig{
			Schedule:    getEnv("OUTBOX_SCHEDULE", "@every 5s"),
			BatchSize:   getEnvInt("OUTBOX_BATCH_SIZE", 100),
			MaxAttempts: getEnvInt("OUTBOX_MAX_ATTEMPTS", 10),
		},
		Budget: BudgetConfig{
			TransferApprovalThreshold: getEnvDecimal("TRANSFER_APPROVAL_THRESHOLD", decimal.NewFromInt(50000)),
			HighBurnRate:              getEnvFloat("HIGH_BURN_RATE", 1.5),
			CriticalExpirationDays:    getEnvInt("CRITICAL_EXPIRATION_DAYS", 7),
		},
	}
}

// migrationMode accepts the mode names and the legacy boolean values.
func migrationMode(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", MigrationsAuto, "1", "true", "yes":
		return MigrationsAuto
	case MigrationsSQL:
		return MigrationsSQL
	default:
		return MigrationsOff
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default.
// Accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}
