package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `database:
  host: db.local
  port: 5433
  user: tracker
  password: "secret"
  database: transitpulse
rabbitmq:
  user: guest
  password: guest
http:
  port: 3100
routing:
  base_url: http://osrm.local
jwt:
  secret_key: 'k3y'
`

func TestLoadFromFile_ParsesAndDefaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "db.local" || cfg.Database.Port != 5433 {
		t.Errorf("database section mismatch: %+v", cfg.Database)
	}
	if cfg.Database.Password != "secret" {
		t.Errorf("quoted scalar not unquoted: %q", cfg.Database.Password)
	}
	if cfg.RabbitMQ.Host != "localhost" || cfg.RabbitMQ.Port != 5672 {
		t.Errorf("rabbitmq defaults not applied: %+v", cfg.RabbitMQ)
	}
	if cfg.HTTP.MetricsPort != 9090 {
		t.Errorf("metrics port default not applied: %d", cfg.HTTP.MetricsPort)
	}
	if cfg.Routing.TimeoutSeconds != 10 {
		t.Errorf("routing timeout default not applied: %d", cfg.Routing.TimeoutSeconds)
	}
	if cfg.JWT.SecretKey != "k3y" {
		t.Errorf("jwt secret mismatch: %q", cfg.JWT.SecretKey)
	}
}

func TestLoadFromFile_EnvOverridesPassword(t *testing.T) {
	t.Setenv("DB_PASSWORD", "from-env")
	cfg, err := LoadFromFile(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Password != "from-env" {
		t.Errorf("expected env override, got %q", cfg.Database.Password)
	}
}

func TestLoadFromFile_RejectsUnknownKey(t *testing.T) {
	bad := validYAML + "unknown:\n  x: 1\n"
	if _, err := LoadFromFile(writeConfig(t, bad)); err == nil {
		t.Error("expected error for unknown top-level key")
	}
}

func TestLoadFromFile_RequiresDatabaseUser(t *testing.T) {
	missing := `database:
  password: p
  database: d
rabbitmq:
  user: u
  password: p
`
	if _, err := LoadFromFile(writeConfig(t, missing)); err == nil {
		t.Error("expected validation error for missing database.user")
	}
}
