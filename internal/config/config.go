// Package config holds the server configuration: the data root, payload
// limits, wait/lock timings, and the gateway/telemetry knobs. Values come
// from an optional JSON5 config file overlaid by BRAINSTORM_* env vars;
// env always wins.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is passed as an explicit handle through every component.
// No package-level singleton exists.
type Config struct {
	// DataRoot is the directory all state lives under.
	DataRoot string `json:"data_root"`

	Limits    LimitsConfig    `json:"limits"`
	Wait      WaitConfig      `json:"wait"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// LimitsConfig bounds externally supplied payloads.
type LimitsConfig struct {
	// MaxInlineBytes caps inline resource content (payload/data).
	MaxInlineBytes int64 `json:"max_inline_bytes"`
	// MaxPayloadBytes caps message payloads and file-referenced resources.
	MaxPayloadBytes int64 `json:"max_payload_bytes"`
	// MaxJSONDepth caps nesting of structured message payloads.
	MaxJSONDepth int `json:"max_json_depth"`
}

// WaitConfig tunes the long-poll coordinator and advisory locks.
type WaitConfig struct {
	PollInterval   time.Duration `json:"-"`
	LockTimeout    time.Duration `json:"-"`
	DefaultTimeout time.Duration `json:"-"`
	MaxTimeout     time.Duration `json:"-"`

	// File representation, in seconds. Zero means "use default".
	PollIntervalSec   float64 `json:"poll_interval_sec,omitempty"`
	LockTimeoutSec    float64 `json:"lock_timeout_sec,omitempty"`
	DefaultTimeoutSec float64 `json:"default_timeout_sec,omitempty"`
	MaxTimeoutSec     float64 `json:"max_timeout_sec,omitempty"`
}

// GatewayConfig tunes the MCP tool surface.
type GatewayConfig struct {
	// RateLimitRPM caps tool calls per client per minute. 0 disables.
	RateLimitRPM int `json:"rate_limit_rpm"`
	// RateBurst is the token-bucket burst size.
	RateBurst int `json:"rate_burst"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint"`
	Protocol    string `json:"protocol"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name"`
	Insecure    bool   `json:"insecure"`
}

// Default returns a Config with the stock limits and timings.
func Default() *Config {
	return &Config{
		DataRoot: "~/.brainstorm",
		Limits: LimitsConfig{
			MaxInlineBytes:  50 * 1024,
			MaxPayloadBytes: 500 * 1024,
			MaxJSONDepth:    100,
		},
		Wait: WaitConfig{
			PollInterval:   2 * time.Second,
			LockTimeout:    5 * time.Second,
			DefaultTimeout: 300 * time.Second,
			MaxTimeout:     3600 * time.Second,
		},
		Gateway: GatewayConfig{
			RateLimitRPM: 120,
			RateBurst:    20,
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "brainstorm",
		},
	}
}

// DataRootPath returns the expanded absolute data root.
func (c *Config) DataRootPath() string {
	p := ExpandHome(c.DataRoot)
	if !filepath.IsAbs(p) {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
	}
	return p
}

// ClampWaitTimeout bounds a caller-supplied wait timeout to
// [1s, Wait.MaxTimeout], substituting the default when the caller passed
// nothing.
func (c *Config) ClampWaitTimeout(seconds float64) time.Duration {
	if seconds <= 0 {
		return c.Wait.DefaultTimeout
	}
	d := time.Duration(seconds * float64(time.Second))
	if d < time.Second {
		d = time.Second
	}
	if d > c.Wait.MaxTimeout {
		d = c.Wait.MaxTimeout
	}
	return d
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
