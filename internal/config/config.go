package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Finnhub   FinnhubConfig
	Portfolio PortfolioConfig
	Cache     CacheConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// RedisConfig holds the portfolio snapshot store configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// DatabaseConfig holds PostgreSQL configuration for the trade journal
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// KafkaConfig holds trade-event stream configuration
type KafkaConfig struct {
	Brokers        []string
	Topic          string
	GroupID        string
	JournalEnabled bool
}

// FinnhubConfig holds market-data source configuration
type FinnhubConfig struct {
	APIKey  string
	BaseURL string
}

// PortfolioConfig holds the identity and starting balance
type PortfolioConfig struct {
	UserID       string
	StartingCash float64
}

// CacheConfig holds market-data cache freshness windows
type CacheConfig struct {
	QuoteTTL   time.Duration
	ProfileTTL time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "portfolio"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "portfolioservice"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Kafka: KafkaConfig{
			Brokers:        strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:          getEnv("KAFKA_TOPIC", "trade-events"),
			GroupID:        getEnv("KAFKA_GROUP_ID", "trade-journal"),
			JournalEnabled: getEnvBool("JOURNAL_ENABLED", false),
		},
		Finnhub: FinnhubConfig{
			APIKey:  getEnv("FINNHUB_API_KEY", ""),
			BaseURL: getEnv("FINNHUB_BASE_URL", ""),
		},
		Portfolio: PortfolioConfig{
			UserID:       getEnv("PORTFOLIO_USER_ID", ""),
			StartingCash: getEnvFloat("PORTFOLIO_STARTING_CASH", 10000.00),
		},
		Cache: CacheConfig{
			QuoteTTL:   getEnvDuration("QUOTE_TTL", 2*time.Minute),
			ProfileTTL: getEnvDuration("PROFILE_TTL", 24*time.Hour),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
