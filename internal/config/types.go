package config

// Config represents the full daemon configuration.
type Config struct {
	Version    string            `yaml:"version"`
	Storage    StorageConfig     `yaml:"storage"`
	Broker     BrokerConfig      `yaml:"broker"`
	Health     HealthConfig      `yaml:"health"`
	Harpoon    HarpoonConfig     `yaml:"harpoon"`
	Screenshot ScreenshotConfig  `yaml:"screenshot,omitempty"`
	Admin      AdminConfig       `yaml:"admin"`
	Monitoring *MonitoringConfig `yaml:"monitoring,omitempty"`
}

// StorageConfig represents durable storage configuration.
type StorageConfig struct {
	// Path to the SQLite database holding the key/value slices.
	// ":memory:" is accepted for tests.
	DBPath string `yaml:"db_path"`
}

// BrokerConfig represents message broker configuration.
type BrokerConfig struct {
	// TransportURL selects the endpoint transport by scheme
	// (nats://, ws://, mem://).
	TransportURL string `yaml:"transport_url"`

	MaxRetries      int    `yaml:"max_retries"`      // default retry limit per send
	SendTimeout     string `yaml:"send_timeout"`     // per-attempt timeout, duration string
	BackoffBase     string `yaml:"backoff_base"`     // first retry delay, doubles per attempt
	QueueSize       int    `yaml:"queue_size"`       // cap of the fire-and-forget queue
	DrainInterval   string `yaml:"drain_interval"`   // queue drain tick
	MaxTransactions int    `yaml:"max_transactions"` // active-transaction table cap
	MaxRetryTimers  int    `yaml:"max_retry_timers"` // pending-retry table cap
}

// HealthConfig represents health monitoring and recovery configuration.
type HealthConfig struct {
	CheckInterval  string `yaml:"check_interval"`  // periodic health check cadence
	ErrorThreshold int    `yaml:"error_threshold"` // uncaught errors before auto-recovery
}

// HarpoonConfig represents per-window harpoon partition configuration.
type HarpoonConfig struct {
	MaxTabsPerWindow int `yaml:"max_tabs_per_window"`
}

// ScreenshotConfig represents screenshot capture configuration.
type ScreenshotConfig struct {
	SettleDelay     string   `yaml:"settle_delay"`     // wait before capture after activation
	ExcludePatterns []string `yaml:"exclude_patterns"` // URL prefixes never captured
}

// AdminConfig represents the admin HTTP server configuration.
type AdminConfig struct {
	Port int `yaml:"port"`
}

// MonitoringConfig represents metrics and logging configuration.
type MonitoringConfig struct {
	Metrics MonitoringMetrics `yaml:"metrics"`
	Logging MonitoringLogging `yaml:"logging"`
}

// MonitoringMetrics represents metrics configuration.
type MonitoringMetrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MonitoringLogging represents logging configuration.
type MonitoringLogging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
