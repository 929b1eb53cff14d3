// Package config loads the client configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sdelcore/droidcode/internal/queue"
)

const (
	TransportSSE       = "sse"
	TransportWebsocket = "websocket"
)

type QueueConfig struct {
	MaxQueueSize int `yaml:"max_queue_size"`
	BatchSize    int `yaml:"batch_size"`
	BatchDelayMs int `yaml:"batch_delay_ms"`
}

type ReconnectConfig struct {
	InitialDelayMs int `yaml:"initial_delay_ms"`
	MaxDelayMs     int `yaml:"max_delay_ms"`
}

type Config struct {
	ServerURL string          `yaml:"server_url"`
	SessionID string          `yaml:"session_id"`
	Transport string          `yaml:"transport"` // sse | websocket
	LogLevel  string          `yaml:"log_level"`
	Queue     QueueConfig     `yaml:"queue"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

func Default() Config {
	return Config{
		ServerURL: "http://localhost:8800",
		Transport: TransportSSE,
		LogLevel:  "info",
		Queue: QueueConfig{
			MaxQueueSize: queue.DefaultMaxQueueSize,
			BatchSize:    queue.DefaultBatchSize,
			BatchDelayMs: int(queue.DefaultBatchDelay / time.Millisecond),
		},
		Reconnect: ReconnectConfig{
			InitialDelayMs: 500,
			MaxDelayMs:     30000,
		},
	}
}

// Load reads path over the defaults. An empty path returns the
// defaults; a missing or malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Transport != TransportSSE && cfg.Transport != TransportWebsocket {
		return cfg, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return cfg, nil
}

// QueueSettings converts the wire-friendly millisecond fields into the
// queue package's config.
func (c Config) QueueSettings() queue.Config {
	return queue.Config{
		MaxQueueSize: c.Queue.MaxQueueSize,
		BatchSize:    c.Queue.BatchSize,
		BatchDelay:   time.Duration(c.Queue.BatchDelayMs) * time.Millisecond,
	}
}

func (c Config) InitialBackoff() time.Duration {
	return time.Duration(c.Reconnect.InitialDelayMs) * time.Millisecond
}

func (c Config) MaxBackoff() time.Duration {
	return time.Duration(c.Reconnect.MaxDelayMs) * time.Millisecond
}
