package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process-wide, immutable configuration loaded once at startup.
type Config struct {
	Port string
	Mode string

	DatabaseURL string
	RedisURL    string

	// MasterKey is the decoded bytes backing the Cryptor. Must be exactly 32 bytes.
	MasterKey []byte

	// AdminKey is the raw, undecoded secret key material, reused as the
	// bootstrap bearer token for the app-management endpoints that must
	// work before any per-app API key exists (POST/GET /v1/apps).
	AdminKey string

	MultiNode bool

	ProductSyncInterval time.Duration

	StoreVerifyTimeout  time.Duration
	WebhookPostTimeout  time.Duration
	ProductSyncTimeout  time.Duration
	ShutdownDrainPeriod time.Duration

	AutoMigrate bool
}

var AppConfig *Config

// InitConfig loads configuration from the environment (OPENCAT__ prefixed
// variables), falling back to a local .env file when present. The system
// refuses to start with a missing or too-short master key.
func InitConfig() error {
	if err := godotenv.Load(); err != nil {
		// Ignore error if .env file doesn't exist
	}

	keyMaterial := getEnv("OPENCAT__SERVER__SECRET_KEY", "")
	masterKey, err := decodeMasterKey(keyMaterial)
	if err != nil {
		return fmt.Errorf("invalid OPENCAT__SERVER__SECRET_KEY: %w", err)
	}
	if len(masterKey) != 32 {
		return fmt.Errorf("OPENCAT__SERVER__SECRET_KEY must decode to exactly 32 bytes for chacha20poly1305, got %d", len(masterKey))
	}

	AppConfig = &Config{
		Port:                getEnv("OPENCAT__SERVER__PORT", "8080"),
		Mode:                getEnv("OPENCAT__SERVER__MODE", "debug"),
		DatabaseURL:         getEnv("OPENCAT__DATABASE__URL", ""),
		RedisURL:            getEnv("OPENCAT__REDIS__URL", "redis://localhost:6379/0"),
		MasterKey:           masterKey,
		AdminKey:            keyMaterial,
		MultiNode:           getEnvBool("OPENCAT__SERVER__MULTI_NODE", false),
		ProductSyncInterval: getEnvDuration("OPENCAT__PRODUCTSYNC__INTERVAL", 6*time.Hour),
		StoreVerifyTimeout:  getEnvDuration("OPENCAT__STORE__VERIFY_TIMEOUT", 15*time.Second),
		WebhookPostTimeout:  getEnvDuration("OPENCAT__WEBHOOK__POST_TIMEOUT", 10*time.Second),
		ProductSyncTimeout:  getEnvDuration("OPENCAT__PRODUCTSYNC__PAGE_TIMEOUT", 30*time.Second),
		ShutdownDrainPeriod: getEnvDuration("OPENCAT__SERVER__DRAIN_PERIOD", 20*time.Second),
		AutoMigrate:         getEnvBool("OPENCAT__DATABASE__AUTO_MIGRATE", true),
	}

	return nil
}

// decodeMasterKey accepts either raw text (used as-is) or a base64-encoded
// key, the same convention the teacher's App Store private key loader uses.
func decodeMasterKey(material string) ([]byte, error) {
	if material == "" {
		return nil, fmt.Errorf("missing secret key")
	}
	if decoded, err := base64.StdEncoding.DecodeString(material); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	return []byte(material), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
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
