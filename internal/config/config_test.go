package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Transport != TransportSSE {
		t.Errorf("expected sse transport default, got %q", cfg.Transport)
	}
	if cfg.Queue.BatchSize == 0 || cfg.Queue.MaxQueueSize == 0 {
		t.Errorf("expected queue defaults, got %+v", cfg.Queue)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server_url: https://agent.example
session_id: sess-42
transport: websocket
queue:
  max_queue_size: 10
  batch_size: 2
  batch_delay_ms: 7
reconnect:
  initial_delay_ms: 100
  max_delay_ms: 2000
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerURL != "https://agent.example" || cfg.SessionID != "sess-42" {
		t.Errorf("unexpected target %+v", cfg)
	}
	if cfg.Transport != TransportWebsocket {
		t.Errorf("expected websocket, got %q", cfg.Transport)
	}

	qs := cfg.QueueSettings()
	if qs.MaxQueueSize != 10 || qs.BatchSize != 2 || qs.BatchDelay != 7*time.Millisecond {
		t.Errorf("unexpected queue settings %+v", qs)
	}
	if cfg.InitialBackoff() != 100*time.Millisecond || cfg.MaxBackoff() != 2*time.Second {
		t.Errorf("unexpected backoff %v/%v", cfg.InitialBackoff(), cfg.MaxBackoff())
	}
	// Unset fields keep their defaults.
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level, got %q", cfg.LogLevel)
	}
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("transport: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown transport")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
