package config

import (
	"strings"
	"testing"
)

func TestPostgresConnectionString(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "it's=weird pass"

	dsn := cfg.PostgresConnectionString()
	if !strings.Contains(dsn, `password='it\'s=weird pass'`) {
		t.Errorf("password not quoted correctly: %s", dsn)
	}
	if !strings.Contains(dsn, "host=localhost") || !strings.Contains(dsn, "port=5432") {
		t.Errorf("missing host/port: %s", dsn)
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresUser = "user@corp"
	cfg.PostgresPassword = "p@ss/word"

	u := cfg.PostgresURL()
	if !strings.HasPrefix(u, "postgres://") {
		t.Errorf("unexpected scheme: %s", u)
	}
	// Credentials with reserved characters must be percent-encoded.
	if strings.Contains(u, "p@ss/word") {
		t.Errorf("password not encoded: %s", u)
	}
	if !strings.HasSuffix(u, "sslmode=disable") {
		t.Errorf("missing sslmode query: %s", u)
	}
}

func TestApplyDatabaseURLRejectsScheme(t *testing.T) {
	cfg := validConfig()
	if err := cfg.applyDatabaseURL("mysql://root@localhost/db"); err == nil {
		t.Error("expected error for non-postgres scheme")
	}
}

func TestApplyDatabaseURLPartial(t *testing.T) {
	cfg := validConfig()
	// Host-only URL keeps existing credentials and database.
	if err := cfg.applyDatabaseURL("postgres://db.internal"); err != nil {
		t.Fatalf("applyDatabaseURL failed: %v", err)
	}
	if cfg.PostgresHost != "db.internal" {
		t.Errorf("PostgresHost = %q, want db.internal", cfg.PostgresHost)
	}
	if cfg.PostgresUser != "hiraku" || cfg.PostgresDBName != "hiraku" {
		t.Error("unset URL components should not clobber existing values")
	}
}
