package config

// Default values applied to zero fields after load.
const (
	DefaultDBPath           = "./telescope-data/telescope.db"
	DefaultTransportURL     = "nats://127.0.0.1:4222"
	DefaultMaxRetries       = 3
	DefaultSendTimeout      = "5s"
	DefaultBackoffBase      = "100ms"
	DefaultQueueSize        = 256
	DefaultDrainInterval    = "100ms"
	DefaultMaxTransactions  = 64
	DefaultMaxRetryTimers   = 256
	DefaultCheckInterval    = "5m"
	DefaultErrorThreshold   = 10
	DefaultMaxTabsPerWindow = 20
	DefaultSettleDelay      = "500ms"
	DefaultAdminPort        = 7741
)

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = DefaultDBPath
	}
	if c.Broker.TransportURL == "" {
		c.Broker.TransportURL = DefaultTransportURL
	}
	if c.Broker.MaxRetries <= 0 {
		c.Broker.MaxRetries = DefaultMaxRetries
	}
	if c.Broker.SendTimeout == "" {
		c.Broker.SendTimeout = DefaultSendTimeout
	}
	if c.Broker.BackoffBase == "" {
		c.Broker.BackoffBase = DefaultBackoffBase
	}
	if c.Broker.QueueSize <= 0 {
		c.Broker.QueueSize = DefaultQueueSize
	}
	if c.Broker.DrainInterval == "" {
		c.Broker.DrainInterval = DefaultDrainInterval
	}
	if c.Broker.MaxTransactions <= 0 {
		c.Broker.MaxTransactions = DefaultMaxTransactions
	}
	if c.Broker.MaxRetryTimers <= 0 {
		c.Broker.MaxRetryTimers = DefaultMaxRetryTimers
	}
	if c.Health.CheckInterval == "" {
		c.Health.CheckInterval = DefaultCheckInterval
	}
	if c.Health.ErrorThreshold <= 0 {
		c.Health.ErrorThreshold = DefaultErrorThreshold
	}
	if c.Harpoon.MaxTabsPerWindow <= 0 {
		c.Harpoon.MaxTabsPerWindow = DefaultMaxTabsPerWindow
	}
	if c.Screenshot.SettleDelay == "" {
		c.Screenshot.SettleDelay = DefaultSettleDelay
	}
	if c.Admin.Port <= 0 {
		c.Admin.Port = DefaultAdminPort
	}
}
