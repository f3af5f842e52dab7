package config

import (
	"encoding/base64"
	"errors"
	"log"
	"os"
	"strconv"
)

type Config struct {
	HTTPAddr    string
	DatabaseDSN string
	JWTSecret   string

	// CronToken authenticates the external scheduler hitting the sweep
	// endpoint.
	CronToken string

	// MasterKeyB64 is the base64 AES-256 key sealing secret payloads.
	MasterKeyB64 string

	MaxRequestBytes int64

	SweepBatchSize       int
	MaxReminderRetries   int
	MaxRecipientAttempts int
	MinIntervalDays      int
	MaxIntervalDays      int
}

func Load() Config {
	cfg := Config{
		HTTPAddr:             getEnv("LASTWORD_HTTP_ADDR", ":8080"),
		DatabaseDSN:          getEnv("LASTWORD_DB_DSN", "file:lastword.db?cache=shared&mode=rwc"),
		JWTSecret:            getEnv("LASTWORD_JWT_SECRET", "dev-secret-change"),
		CronToken:            getEnv("LASTWORD_CRON_TOKEN", "dev-cron-token-change"),
		MasterKeyB64:         getEnv("LASTWORD_MASTER_KEY", ""),
		MaxRequestBytes:      getEnvInt64("LASTWORD_MAX_REQUEST_BYTES", 1<<20),
		SweepBatchSize:       getEnvInt("LASTWORD_SWEEP_BATCH", 100),
		MaxReminderRetries:   getEnvInt("LASTWORD_MAX_REMINDER_RETRIES", 5),
		MaxRecipientAttempts: getEnvInt("LASTWORD_MAX_RECIPIENT_ATTEMPTS", 3),
		MinIntervalDays:      getEnvInt("LASTWORD_MIN_INTERVAL_DAYS", 2),
		MaxIntervalDays:      getEnvInt("LASTWORD_MAX_INTERVAL_DAYS", 365),
	}
	if cfg.JWTSecret == "dev-secret-change" {
		log.Println("WARNING: using development JWT secret; set LASTWORD_JWT_SECRET")
	}
	if cfg.CronToken == "dev-cron-token-change" {
		log.Println("WARNING: using development cron token; set LASTWORD_CRON_TOKEN")
	}
	if cfg.MasterKeyB64 == "" {
		cfg.MasterKeyB64 = base64.StdEncoding.EncodeToString([]byte("dev-master-key-change-0123456789"))
		log.Println("WARNING: using development master key; set LASTWORD_MASTER_KEY")
	}
	return cfg
}

// MasterKey decodes the configured payload key and enforces AES-256 length.
func (c Config) MasterKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.MasterKeyB64)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, errors.New("master key must be 32 bytes")
	}
	return key, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
