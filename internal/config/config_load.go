package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyFileDurations()
	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyFileDurations converts the *_sec file fields into durations.
func (c *Config) applyFileDurations() {
	secs := func(v float64, dst *time.Duration) {
		if v > 0 {
			*dst = time.Duration(v * float64(time.Second))
		}
	}
	secs(c.Wait.PollIntervalSec, &c.Wait.PollInterval)
	secs(c.Wait.LockTimeoutSec, &c.Wait.LockTimeout)
	secs(c.Wait.DefaultTimeoutSec, &c.Wait.DefaultTimeout)
	secs(c.Wait.MaxTimeoutSec, &c.Wait.MaxTimeout)
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("BRAINSTORM_DATA_ROOT", &c.DataRoot)

	if v := os.Getenv("BRAINSTORM_MAX_PAYLOAD_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Limits.MaxPayloadBytes = n
		}
	}
	if v := os.Getenv("BRAINSTORM_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Gateway.RateLimitRPM = n
		}
	}
	if v := os.Getenv("BRAINSTORM_MAX_WAIT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Wait.MaxTimeout = time.Duration(n) * time.Second
		}
	}

	// Telemetry
	envStr("BRAINSTORM_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BRAINSTORM_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("BRAINSTORM_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("BRAINSTORM_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("BRAINSTORM_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}
