package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load([]string{"--storage-driver", "memory"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Addr != defaultAddr {
		t.Fatalf("expected default addr %q, got %q", defaultAddr, cfg.Addr)
	}
	if cfg.Mode != ModeDevelopment {
		t.Fatalf("expected development mode, got %q", cfg.Mode)
	}
	if cfg.Provider != "youtube" {
		t.Fatalf("expected youtube provider, got %q", cfg.Provider)
	}
}

func TestLoadFlagBeatsEnvironment(t *testing.T) {
	t.Setenv("PRESSCONNECT_ADDR", "10.0.0.1:9000")
	t.Setenv("PRESSCONNECT_TOKEN_TTL", "1h")
	cfg, err := Load([]string{"--storage-driver", "memory", "--addr", "127.0.0.1:7000"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Addr != "127.0.0.1:7000" {
		t.Fatalf("expected flag value to win, got %q", cfg.Addr)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("expected token TTL from environment, got %s", cfg.TokenTTL)
	}
}

func TestLoadProductionRequiresSecret(t *testing.T) {
	_, err := Load([]string{"--storage-driver", "memory", "--mode", "production"})
	if err == nil {
		t.Fatal("expected production mode without a secret to fail")
	}
	if !strings.Contains(err.Error(), "JWT secret") {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := Load([]string{"--storage-driver", "memory", "--mode", "production", "--jwt-secret", "s3cret"})
	if err != nil {
		t.Fatalf("load config with secret: %v", err)
	}
	if !cfg.Production() {
		t.Fatal("expected production mode")
	}
}

func TestLoadPostgresRequiresDSN(t *testing.T) {
	if _, err := Load(nil); err == nil {
		t.Fatal("expected postgres driver without DSN to fail")
	}
	cfg, err := Load([]string{"--postgres-dsn", "postgres://localhost/pressconnect"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StorageDriver != "postgres" {
		t.Fatalf("expected postgres driver, got %q", cfg.StorageDriver)
	}
}

func TestLoadRejectsUnknownDriverAndHalfTLS(t *testing.T) {
	if _, err := Load([]string{"--storage-driver", "sqlite"}); err == nil {
		t.Fatal("expected unknown storage driver to fail")
	}
	if _, err := Load([]string{"--storage-driver", "memory", "--tls-cert", "cert.pem"}); err == nil {
		t.Fatal("expected missing TLS key to fail")
	}
}

func TestLoadCORSOrigins(t *testing.T) {
	cfg, err := Load([]string{"--storage-driver", "memory", "--cors-origins", "https://press.example.com, https://studio.example.com"})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://studio.example.com" {
		t.Fatalf("unexpected origins: %v", cfg.CORSOrigins)
	}
}
