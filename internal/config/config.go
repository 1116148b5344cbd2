package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	// Load .env file - ignore error if file doesn't exist
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Note: .env file not found or could not be loaded: %v\n", err)
	}
}

type Config struct {
	Primary       PrimaryConfig
	Database      DatabaseConfig
	Server        ServerConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Observability *ObservabilityConfig
	YooKassa      YooKassaConfig
	ImageProvider ImageProviderConfig
	Pricing       PricingConfig
	Jobs          JobsConfig
}

type PrimaryConfig struct {
	Env string
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
	ConnMaxIdleTime int
}

type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	IdleTimeout        int
	CORSAllowedOrigins []string
	GenerationRPM      int64
}

type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

type KafkaConfig struct {
	Brokers []string
}

type ObservabilityConfig struct {
	ServiceName string
	Environment string
	Logging     LoggingConfig
	NewRelic    NewRelicConfig
}

type LoggingConfig struct {
	Level              string
	Format             string
	SlowQueryThreshold time.Duration
}

type NewRelicConfig struct {
	LicenseKey                string
	AppLogForwardingEnabled   bool
	DistributedTracingEnabled bool
	DebugLogging              bool
}

type YooKassaConfig struct {
	ShopID        string
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	ReturnURL     string
	Currency      string
}

type ImageProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type PricingConfig struct {
	// ModelPrices is a comma-separated list of model:price pairs,
	// e.g. "flux:5.00,sdxl:2.50".
	ModelPrices  string
	DefaultPrice string
}

type JobsConfig struct {
	// PaymentSweepSchedule is a cron expression; stale pending payments older
	// than PaymentPendingTTL are cancelled on each run.
	PaymentSweepSchedule string
	PaymentPendingTTL    time.Duration
}

// Helper functions for parsing env vars
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return fallback
}

func (c *ObservabilityConfig) GetLogLevel() string {
	if c.Logging.Level == "" {
		switch c.Environment {
		case "production":
			return "info"
		default:
			return "debug"
		}
	}
	return c.Logging.Level
}

func (c *ObservabilityConfig) IsProduction() bool {
	return c.Environment == "production"
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Primary: PrimaryConfig{
			Env: getEnv("GLAZE_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("GLAZE_DB_HOST", "localhost"),
			Port:            getEnvInt("GLAZE_DB_PORT", 5432),
			User:            getEnv("GLAZE_DB_USER", "glaze"),
			Password:        getEnv("GLAZE_DB_PASSWORD", ""),
			Name:            getEnv("GLAZE_DB_NAME", "glaze"),
			SSLMode:         getEnv("GLAZE_DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("GLAZE_DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("GLAZE_DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvInt("GLAZE_DB_CONN_MAX_LIFETIME", 300),
			ConnMaxIdleTime: getEnvInt("GLAZE_DB_CONN_MAX_IDLE_TIME", 60),
		},
		Server: ServerConfig{
			Port:               getEnv("GLAZE_SERVER_PORT", "8080"),
			ReadTimeout:        getEnvInt("GLAZE_SERVER_READ_TIMEOUT", 30),
			WriteTimeout:       getEnvInt("GLAZE_SERVER_WRITE_TIMEOUT", 30),
			IdleTimeout:        getEnvInt("GLAZE_SERVER_IDLE_TIMEOUT", 60),
			CORSAllowedOrigins: getEnvSlice("GLAZE_SERVER_CORS_ORIGINS", []string{"*"}),
			GenerationRPM:      getEnvInt64("GLAZE_SERVER_GENERATION_RPM", 20),
		},
		Redis: RedisConfig{
			Address:      getEnv("GLAZE_REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnv("GLAZE_REDIS_PASSWORD", ""),
			DB:           getEnvInt("GLAZE_REDIS_DB", 0),
			PoolSize:     getEnvInt("GLAZE_REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("GLAZE_REDIS_MIN_IDLE_CONNS", 5),
			DialTimeout:  getEnvDuration("GLAZE_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("GLAZE_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("GLAZE_REDIS_WRITE_TIMEOUT", 3*time.Second),
			KeyPrefix:    getEnv("GLAZE_REDIS_KEY_PREFIX", "glaze:"),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("GLAZE_KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		Observability: &ObservabilityConfig{
			ServiceName: "Glaze",
			Environment: getEnv("GLAZE_ENV", "development"),
			Logging: LoggingConfig{
				Level:              getEnv("GLAZE_LOG_LEVEL", "debug"),
				Format:             getEnv("GLAZE_LOG_FORMAT", "console"),
				SlowQueryThreshold: getEnvDuration("GLAZE_LOG_SLOW_QUERY_THRESHOLD", 100*time.Millisecond),
			},
			NewRelic: NewRelicConfig{
				LicenseKey:                getEnv("GLAZE_NEWRELIC_LICENSE_KEY", ""),
				AppLogForwardingEnabled:   getEnvBool("GLAZE_NEWRELIC_LOG_FORWARDING", true),
				DistributedTracingEnabled: getEnvBool("GLAZE_NEWRELIC_DISTRIBUTED_TRACING", true),
				DebugLogging:              getEnvBool("GLAZE_NEWRELIC_DEBUG", false),
			},
		},
		YooKassa: YooKassaConfig{
			ShopID:        getEnv("GLAZE_YOOKASSA_SHOP_ID", ""),
			SecretKey:     getEnv("GLAZE_YOOKASSA_SECRET_KEY", ""),
			WebhookSecret: getEnv("GLAZE_YOOKASSA_WEBHOOK_SECRET", ""),
			BaseURL:       getEnv("GLAZE_YOOKASSA_BASE_URL", "https://api.yookassa.ru/v3"),
			ReturnURL:     getEnv("GLAZE_YOOKASSA_RETURN_URL", "https://t.me/glaze_bot"),
			Currency:      getEnv("GLAZE_YOOKASSA_CURRENCY", "RUB"),
		},
		ImageProvider: ImageProviderConfig{
			BaseURL: getEnv("GLAZE_PROVIDER_BASE_URL", "https://api.glaze.dev/v1"),
			APIKey:  getEnv("GLAZE_PROVIDER_API_KEY", ""),
			Timeout: getEnvDuration("GLAZE_PROVIDER_TIMEOUT", 120*time.Second),
		},
		Pricing: PricingConfig{
			ModelPrices:  getEnv("GLAZE_PRICING_MODELS", "flux:5.00,sdxl:2.50,sd3:3.00"),
			DefaultPrice: getEnv("GLAZE_PRICING_DEFAULT", "5.00"),
		},
		Jobs: JobsConfig{
			PaymentSweepSchedule: getEnv("GLAZE_JOBS_PAYMENT_SWEEP", "@every 15m"),
			PaymentPendingTTL:    getEnvDuration("GLAZE_JOBS_PAYMENT_PENDING_TTL", 24*time.Hour),
		},
	}

	// Validate required fields
	if cfg.Database.Host == "" {
		return nil, fmt.Errorf("GLAZE_DB_HOST is required")
	}
	if cfg.Database.Name == "" {
		return nil, fmt.Errorf("GLAZE_DB_NAME is required")
	}

	return cfg, nil
}
