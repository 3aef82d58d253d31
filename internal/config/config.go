package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	RabbitMQURL string
	LogLevel    string
	LogFormat   string

	Queue    QueueConfig
	Breaker  BreakerConfig
	WhatsApp WhatsAppConfig
	SMTP     SMTPConfig
}

// QueueConfig tunes the message queue loops.
type QueueConfig struct {
	DispatchInterval   time.Duration
	PromotionInterval  time.Duration
	BatchSize          int
	DefaultMaxAttempts int
	BackoffBase        float64
	MaxBackoff         time.Duration
	PriorityWeight     time.Duration
}

// BreakerConfig tunes the circuit breaker defaults.
type BreakerConfig struct {
	FailureThreshold         int
	ResetTimeout             time.Duration
	HalfOpenSuccessThreshold int
}

// WhatsAppConfig carries credentials for the WhatsApp channel.
type WhatsAppConfig struct {
	APIBaseURL    string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

// SMTPConfig carries credentials for the email channel.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// Load loads the configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "localhost:6379"),
		RabbitMQURL: getEnv("RABBITMQ_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "text"),
		Queue: QueueConfig{
			DispatchInterval:   getEnvAsDuration("QUEUE_DISPATCH_INTERVAL", time.Second),
			PromotionInterval:  getEnvAsDuration("QUEUE_PROMOTION_INTERVAL", 10*time.Second),
			BatchSize:          getEnvAsInt("QUEUE_BATCH_SIZE", 5),
			DefaultMaxAttempts: getEnvAsInt("QUEUE_DEFAULT_MAX_ATTEMPTS", 3),
			BackoffBase:        getEnvAsFloat("QUEUE_BACKOFF_BASE", 2),
			MaxBackoff:         getEnvAsDuration("QUEUE_MAX_BACKOFF", 5*time.Minute),
			PriorityWeight:     getEnvAsDuration("QUEUE_PRIORITY_WEIGHT", time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold:         getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
			ResetTimeout:             getEnvAsDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
			HalfOpenSuccessThreshold: getEnvAsInt("BREAKER_HALF_OPEN_SUCCESSES", 3),
		},
		WhatsApp: WhatsAppConfig{
			APIBaseURL:    getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v19.0"),
			PhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			AccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			Timeout:       getEnvAsDuration("WHATSAPP_TIMEOUT", 30*time.Second),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", ""),
			Timeout:  getEnvAsDuration("SMTP_TIMEOUT", 30*time.Second),
		},
	}, nil
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("invalid duration for %s; using default %s", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("invalid integer for %s; using default %d", key, defaultValue)
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		log.Printf("invalid number for %s; using default %g", key, defaultValue)
	}
	return defaultValue
}
