// Package config loads, validates and watches the daemon configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dough654/Telescope.Browser/internal/errors"
)

// Load reads the configuration file at path, applies environment
// overrides and defaults, and validates the result. A `.env` file next
// to the working directory is honored before environment lookup.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env file is not an error.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, "failed to read configuration file").
			WithContext("path", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.CategoryConfig, "failed to parse configuration file").
			WithContext("path", path)
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets TELESCOPE_* environment variables override the
// file configuration. Only operationally relevant knobs are exposed.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TELESCOPE_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("TELESCOPE_TRANSPORT_URL"); v != "" {
		cfg.Broker.TransportURL = v
	}
	if v := os.Getenv("TELESCOPE_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = port
		}
	}
	if v := os.Getenv("TELESCOPE_LOG_LEVEL"); v != "" {
		if cfg.Monitoring == nil {
			cfg.Monitoring = &MonitoringConfig{}
		}
		cfg.Monitoring.Logging.Level = v
	}
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Version, "1.") {
		return errors.New(errors.CategoryConfig, errors.SeverityFatal,
			fmt.Sprintf("unsupported configuration version %q", c.Version))
	}
	for name, raw := range map[string]string{
		"broker.send_timeout":     c.Broker.SendTimeout,
		"broker.backoff_base":     c.Broker.BackoffBase,
		"broker.drain_interval":   c.Broker.DrainInterval,
		"health.check_interval":   c.Health.CheckInterval,
		"screenshot.settle_delay": c.Screenshot.SettleDelay,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return errors.Wrap(err, errors.CategoryConfig, "invalid duration").
				WithContext("field", name).
				WithContext("value", raw)
		}
	}
	scheme, _, ok := strings.Cut(c.Broker.TransportURL, "://")
	if !ok || scheme == "" {
		return errors.New(errors.CategoryConfig, errors.SeverityFatal,
			fmt.Sprintf("transport_url %q has no scheme", c.Broker.TransportURL))
	}
	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		return errors.New(errors.CategoryConfig, errors.SeverityFatal,
			fmt.Sprintf("admin port %d out of range", c.Admin.Port))
	}
	return nil
}

// Duration helpers; validated values cannot fail to parse again.

func (c *Config) SendTimeout() time.Duration   { return mustDuration(c.Broker.SendTimeout) }
func (c *Config) BackoffBase() time.Duration   { return mustDuration(c.Broker.BackoffBase) }
func (c *Config) DrainInterval() time.Duration { return mustDuration(c.Broker.DrainInterval) }
func (c *Config) CheckInterval() time.Duration { return mustDuration(c.Health.CheckInterval) }
func (c *Config) SettleDelay() time.Duration   { return mustDuration(c.Screenshot.SettleDelay) }

func mustDuration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

// Init writes a starter configuration file.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.New(errors.CategoryConfig, errors.SeverityFatal,
				fmt.Sprintf("configuration file %s already exists (use --force to overwrite)", path))
		}
	}

	cfg := Config{}
	cfg.ApplyDefaults()
	cfg.Monitoring = &MonitoringConfig{
		Metrics: MonitoringMetrics{Enabled: true, Path: "/metrics"},
		Logging: MonitoringLogging{Level: "info", Format: "text"},
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return errors.Wrap(err, errors.CategoryConfig, "failed to marshal starter configuration")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, errors.CategoryConfig, "failed to write starter configuration").
			WithContext("path", path)
	}
	return nil
}
