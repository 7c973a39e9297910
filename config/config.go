package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Ledger    LedgerConfig
	Reconcile ReconcileConfig
	App       AppConfig
}

type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LedgerConfig describes the node the gateway talks to and the keys it may sign with.
type LedgerConfig struct {
	RPCURL              string
	SignerKeys          []string
	ProjectArtifactPath string
	ConfirmTimeout      time.Duration
	RequestsPerSecond   float64
	Burst               int
}

type ReconcileConfig struct {
	Schedule    string
	MaxAttempts int
	BatchSize   int
}

type AppConfig struct {
	Environment string
	Version     string

	// DocumentBaseURL prefixes document identifiers when rendering attachment links.
	DocumentBaseURL string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "permits"),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			RPCURL:              getEnv("LEDGER_RPC_URL", "http://localhost:8545"),
			SignerKeys:          getEnvAsList("LEDGER_SIGNER_KEYS", nil),
			ProjectArtifactPath: getEnv("LEDGER_PROJECT_ARTIFACT", "artifacts/Project.json"),
			ConfirmTimeout:      getEnvAsDuration("LEDGER_CONFIRM_TIMEOUT", 2*time.Minute),
			RequestsPerSecond:   getEnvAsFloat("LEDGER_RPS", 20),
			Burst:               getEnvAsInt("LEDGER_BURST", 40),
		},
		Reconcile: ReconcileConfig{
			Schedule:    getEnv("RECONCILE_SCHEDULE", "@every 1m"),
			MaxAttempts: getEnvAsInt("RECONCILE_MAX_ATTEMPTS", 5),
			BatchSize:   getEnvAsInt("RECONCILE_BATCH_SIZE", 50),
		},
		App: AppConfig{
			Environment:     getEnv("APP_ENV", "development"),
			Version:         getEnv("APP_VERSION", "1.0.0"),
			DocumentBaseURL: getEnv("DOCUMENT_BASE_URL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("LEDGER_RPC_URL is required")
	}

	if c.Ledger.ConfirmTimeout <= 0 {
		return fmt.Errorf("LEDGER_CONFIRM_TIMEOUT must be positive")
	}

	if c.Reconcile.MaxAttempts < 1 {
		return fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be at least 1")
	}

	return nil
}

// DSN renders the lib/pq keyword form. pgx accepts the same string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		d.Host, d.Port, d.User, d.Password, d.Name,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid number for %s, using default: %g", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
