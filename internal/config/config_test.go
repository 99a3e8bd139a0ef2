package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.StoreDriver != DriverSQLite {
		t.Errorf("expected sqlite driver, got %s", cfg.StoreDriver)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Errorf("expected 24h token ttl, got %s", cfg.TokenTTL)
	}
	if !cfg.MaxPosition.IsZero() {
		t.Errorf("expected unlimited position, got %s", cfg.MaxPosition)
	}
}

func TestLoad_DatabaseURLSelectsPostgres(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("DATABASE_URL", "postgres://localhost/custody")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != DriverPostgres {
		t.Errorf("expected postgres driver, got %s", cfg.StoreDriver)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "JWT_SECRET=from-file-0123456789\nPRICE_SYNC_INTERVAL=90s\nMAX_POSITION=2500.5\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PRICE_SYNC_INTERVAL", "")
	t.Setenv("MAX_POSITION", "")
	t.Setenv("STORE_DRIVER", DriverMemory)

	// godotenv does not override variables already present, even empty ones.
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("PRICE_SYNC_INTERVAL")
	os.Unsetenv("MAX_POSITION")

	cfg, err := Load(envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "from-file-0123456789" {
		t.Errorf("expected secret from file, got %q", cfg.JWTSecret)
	}
	if cfg.PriceSyncInterval != 90*time.Second {
		t.Errorf("expected 90s, got %s", cfg.PriceSyncInterval)
	}
	if cfg.MaxPosition.String() != "2500.5" {
		t.Errorf("expected 2500.5, got %s", cfg.MaxPosition)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"short secret", Config{StoreDriver: DriverMemory, JWTSecret: "short", TokenTTL: time.Hour}, false},
		{"postgres without url", Config{StoreDriver: DriverPostgres, JWTSecret: "0123456789abcdef", TokenTTL: time.Hour}, false},
		{"unknown driver", Config{StoreDriver: "mongo", JWTSecret: "0123456789abcdef", TokenTTL: time.Hour}, false},
		{"valid", Config{StoreDriver: DriverSQLite, JWTSecret: "0123456789abcdef", TokenTTL: time.Hour}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}
