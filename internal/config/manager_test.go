package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "flowwatch.yaml", `
warehouse:
  driver: sqlite
  path: ./dev.db
logging:
  level: debug
  console: true
scheduler:
  enabled: true
  poll_interval: 30s
  timezone: UTC
monitor:
  lookback_minutes: 60
server:
  enabled: true
  addr: 127.0.0.1:9090
`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Warehouse.Driver != "sqlite" {
		t.Fatalf("Warehouse.Driver = %q", cfg.Warehouse.Driver)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.PollInterval != "30s" {
		t.Fatalf("unexpected scheduler config: %+v", cfg.Scheduler)
	}
	if cfg.Monitor.LookbackMinutes != 60 {
		t.Fatalf("LookbackMinutes = %d, want 60", cfg.Monitor.LookbackMinutes)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "flowwatch.yaml", `
logging:
  level: info
  verbosity: high
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "flowwatch.json", `{"logging":{"level":"info","console":true,"file":{"enabled":false,"path":""}}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("scheduler.poll_interval", "", 60*time.Second)
	if err != nil || d != 60*time.Second {
		t.Fatalf("default: d=%v err=%v", d, err)
	}
	if _, err := ParseDurationField("x", "not-a-duration"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "flowwatch.yaml", "logging:\n  level: info\n")
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("Level = %q", got.Logging.Level)
		}
	case <-time.After(time.Second):
		t.Fatal("no config delivered")
	}
}
