package config

import (
	"encoding/base64"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.SweepBatchSize != 100 {
		t.Errorf("SweepBatchSize = %d", cfg.SweepBatchSize)
	}
	if cfg.MaxReminderRetries != 5 {
		t.Errorf("MaxReminderRetries = %d", cfg.MaxReminderRetries)
	}
	if cfg.MaxRecipientAttempts != 3 {
		t.Errorf("MaxRecipientAttempts = %d", cfg.MaxRecipientAttempts)
	}
	if cfg.MinIntervalDays != 2 || cfg.MaxIntervalDays != 365 {
		t.Errorf("interval bounds = %d..%d", cfg.MinIntervalDays, cfg.MaxIntervalDays)
	}
	// the dev master key must itself be a valid AES-256 key
	key, err := cfg.MasterKey()
	if err != nil {
		t.Fatalf("MasterKey: %v", err)
	}
	if len(key) != 32 {
		t.Fatalf("dev master key length = %d", len(key))
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LASTWORD_HTTP_ADDR", ":9999")
	t.Setenv("LASTWORD_SWEEP_BATCH", "7")
	t.Setenv("LASTWORD_MAX_REMINDER_RETRIES", "2")
	t.Setenv("LASTWORD_MASTER_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.SweepBatchSize != 7 {
		t.Errorf("SweepBatchSize = %d", cfg.SweepBatchSize)
	}
	if cfg.MaxReminderRetries != 2 {
		t.Errorf("MaxReminderRetries = %d", cfg.MaxReminderRetries)
	}
	if _, err := cfg.MasterKey(); err != nil {
		t.Errorf("MasterKey: %v", err)
	}
}

func TestMasterKeyValidation(t *testing.T) {
	if _, err := (Config{MasterKeyB64: "not base64!!"}).MasterKey(); err == nil {
		t.Error("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("too short"))
	if _, err := (Config{MasterKeyB64: short}).MasterKey(); err == nil {
		t.Error("expected error for short key")
	}
}
