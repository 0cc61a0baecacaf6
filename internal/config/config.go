package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	NATS        NATSConfig
	Moment      MomentConfig
	Chat        ChatConfig
	Sweep       SweepConfig
	Log         LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// RedisConfig holds the chat message store configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// MomentConfig holds moment lifecycle configuration
type MomentConfig struct {
	// JoinRadiusMeters is the co-location radius for create-or-join matching.
	JoinRadiusMeters float64
	// DiscoveryRadiusKm is the default radius for nearby listing queries.
	DiscoveryRadiusKm float64
	// Window is the lifetime of a moment from creation to expiry.
	Window time.Duration
	// Retention is how long expired/archived data survives before purge.
	Retention     time.Duration
	MaxPostLength int
	EventsTopic   string
}

// ChatConfig holds room chat configuration
type ChatConfig struct {
	MaxMessageLength int
	HistoryLimit     int
	MessageTTL       time.Duration
}

// SweepConfig holds expiry scheduler configuration
type SweepConfig struct {
	Interval            time.Duration
	DeepCleanInterval   time.Duration
	BatchSize           int
	InactivityThreshold time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "huddle"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Moment: MomentConfig{
			JoinRadiusMeters:  getEnvAsFloat("MOMENT_JOIN_RADIUS_METERS", 50.0),
			DiscoveryRadiusKm: getEnvAsFloat("MOMENT_DISCOVERY_RADIUS_KM", 5.0),
			Window:            getEnvAsDuration("MOMENT_WINDOW", 24*time.Hour),
			Retention:         getEnvAsDuration("MOMENT_RETENTION", 7*24*time.Hour),
			MaxPostLength:     getEnvAsInt("MOMENT_MAX_POST_LENGTH", 500),
			EventsTopic:       getEnv("MOMENT_EVENTS_TOPIC", "moment"),
		},
		Chat: ChatConfig{
			MaxMessageLength: getEnvAsInt("CHAT_MAX_MESSAGE_LENGTH", 280),
			HistoryLimit:     getEnvAsInt("CHAT_HISTORY_LIMIT", 50),
			MessageTTL:       getEnvAsDuration("CHAT_MESSAGE_TTL", 24*time.Hour),
		},
		Sweep: SweepConfig{
			Interval:            getEnvAsDuration("SWEEP_INTERVAL", 1*time.Hour),
			DeepCleanInterval:   getEnvAsDuration("SWEEP_DEEP_CLEAN_INTERVAL", 24*time.Hour),
			BatchSize:           getEnvAsInt("SWEEP_BATCH_SIZE", 500),
			InactivityThreshold: getEnvAsDuration("SWEEP_INACTIVITY_THRESHOLD", 30*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Moment.JoinRadiusMeters <= 0 {
		return fmt.Errorf("join radius must be positive")
	}
	if config.Moment.Window <= 0 {
		return fmt.Errorf("moment window must be positive")
	}
	if config.Moment.Retention < config.Moment.Window {
		return fmt.Errorf("retention window must be at least the moment window")
	}
	if config.Sweep.BatchSize <= 0 {
		return fmt.Errorf("sweep batch size must be positive")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
