package server

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/trafficlab/settle95/pkg/config"
	"github.com/trafficlab/settle95/pkg/store"
	"github.com/trafficlab/settle95/pkg/store/badger"
)

// Config holds server configuration.
type Config struct {
	DataDir       string
	Port          string
	Concurrency   int64
	RetentionDays int
	SeedFile      string
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() Config {
	dataDir := os.Getenv("SETTLE95_DATA_DIR")
	if dataDir == "" {
		dataDir = config.DefaultDataDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	return Config{
		DataDir:       dataDir,
		Port:          getPort(),
		Concurrency:   getEnvInt64("SETTLE95_CONCURRENCY", config.DefaultConcurrency),
		RetentionDays: int(getEnvInt64("SETTLE95_RETENTION_DAYS", config.DefaultRetentionDays)),
		SeedFile:      os.Getenv("SETTLE95_SEED_FILE"),
	}
}

// Retention returns the configured retention as a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// InitializeStore opens the BadgerDB-backed task/run store.
func InitializeStore(cfg Config) (store.Store, error) {
	log.Println("Initializing BadgerDB store...")
	st, err := badger.New(badger.Config{Path: cfg.DataDir})
	if err != nil {
		return nil, err
	}
	log.Println("BadgerDB store initialized successfully")
	return st, nil
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

// getPort gets the server port from PORT environment variable or returns default.
func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return config.DefaultPort
}
