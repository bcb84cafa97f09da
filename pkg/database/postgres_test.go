package database

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(context.Background(), DefaultConfig(), logrus.New()); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/cryptofx")
	t.Setenv("DB_MAX_OPEN_CONNS", "7")
	t.Setenv("DB_CONN_MAX_LIFETIME", "90s")

	cfg := ConfigFromEnv()
	if cfg.URL != "postgres://localhost/cryptofx" {
		t.Fatalf("unexpected url %q", cfg.URL)
	}
	if cfg.MaxOpenConns != 7 {
		t.Fatalf("expected 7 open conns, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 5 {
		t.Fatalf("expected default idle conns, got %d", cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != 90*time.Second {
		t.Fatalf("unexpected lifetime %v", cfg.ConnMaxLifetime)
	}
}
