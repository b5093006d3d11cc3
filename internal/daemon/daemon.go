// Package daemon assembles the coordination layer: storage, state,
// broker, managers, recovery monitor, admin HTTP server, and the
// config watcher.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/dough654/Telescope.Browser/internal/broker"
	"github.com/dough654/Telescope.Browser/internal/config"
	"github.com/dough654/Telescope.Browser/internal/managers"
	"github.com/dough654/Telescope.Browser/internal/observability"
	"github.com/dough654/Telescope.Browser/internal/recovery"
	"github.com/dough654/Telescope.Browser/internal/state"
	"github.com/dough654/Telescope.Browser/internal/storage"
)

// Daemon owns the component lifecycle. Construction wires everything;
// Start brings components up in dependency order and Stop tears them
// down in reverse.
type Daemon struct {
	mu  sync.RWMutex
	cfg *config.Config

	store       storage.Store
	stateMgr    *state.Manager
	broker      *broker.Broker
	monitor     *recovery.Monitor
	tabs        *managers.TabManager
	windows     *managers.WindowManager
	harpoon     *managers.HarpoonManager
	screenshots *managers.ScreenshotManager
	dispatcher  *managers.Dispatcher
	httpServer  *HTTPServer
	watcher     *ConfigWatcher

	dispatchCancel context.CancelFunc

	metrics  *observability.PrometheusRecorder
	registry *prom.Registry

	startedAt time.Time
}

// New builds a daemon from cfg. Nothing starts running until Start.
func New(cfg *config.Config) (*Daemon, error) {
	registry := prom.NewRegistry()
	metrics := observability.NewPrometheusRecorder(registry)

	schemaRegistry := storage.NewSchemaRegistry()
	if err := state.RegisterSchemas(schemaRegistry); err != nil {
		return nil, fmt.Errorf("failed to register state schemas: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath, schemaRegistry)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	stateMgr := state.NewManager(store,
		state.WithMaxHarpoonTabs(cfg.Harpoon.MaxTabsPerWindow),
		state.WithMetrics(metrics))

	transport, err := broker.NewTransport(cfg.Broker.TransportURL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	b := broker.NewBroker(transport,
		broker.WithBrokerMetrics(metrics),
		broker.WithRetryPolicy(broker.RetryPolicy{
			MaxRetries:     cfg.Broker.MaxRetries,
			BackoffBase:    cfg.BackoffBase(),
			AttemptTimeout: cfg.SendTimeout(),
		}),
		broker.WithQueueCapacity(cfg.Broker.QueueSize),
		broker.WithDrainInterval(cfg.DrainInterval()),
		broker.WithMaxTransactions(cfg.Broker.MaxTransactions),
		broker.WithMaxRetryTimers(cfg.Broker.MaxRetryTimers))

	d := &Daemon{
		cfg:      cfg,
		store:    store,
		stateMgr: stateMgr,
		broker:   b,
		metrics:  metrics,
		registry: registry,
	}

	monitor, err := recovery.NewMonitor(stateMgr, d.recoveryActions(),
		recovery.WithCheckInterval(cfg.CheckInterval()),
		recovery.WithErrorThreshold(cfg.Health.ErrorThreshold),
		recovery.WithMonitorMetrics(metrics))
	if err != nil {
		b.Close()
		store.Close()
		return nil, fmt.Errorf("failed to create health monitor: %w", err)
	}
	monitor.RegisterChecker(recovery.StateChecker(stateMgr))
	monitor.RegisterChecker(recovery.BrokerChecker(b, cfg.Broker.QueueSize))
	monitor.RegisterChecker(recovery.StoreChecker(store))
	d.monitor = monitor

	d.tabs = managers.NewTabManager(stateMgr, b)
	d.windows = managers.NewWindowManager(stateMgr, b)
	d.harpoon = managers.NewHarpoonManager(stateMgr, b)
	d.screenshots = managers.NewScreenshotManager(stateMgr, b,
		managers.WithSettleDelay(cfg.SettleDelay()),
		managers.WithExcludePatterns(cfg.Screenshot.ExcludePatterns))

	// Uncaught handler errors feed the monitor's trip wire, so a run of
	// failing host events eventually triggers recovery.
	d.dispatcher = managers.NewDispatcher(d.tabs, d.windows, d.screenshots,
		managers.WithDispatcherErrorSink(monitor.RecordError))
	monitor.RegisterChecker(recovery.DispatcherChecker(d.dispatcher))
	monitor.RegisterChecker(recovery.ScreenshotChecker(d.screenshots))

	d.httpServer = NewHTTPServer(d, cfg.Admin.Port)
	return d, nil
}

// Start brings components up: state first, then broker, monitor, admin
// server, and config watcher.
func (d *Daemon) Start(ctx context.Context, configPath string) error {
	slog.Info("Starting daemon")
	d.startedAt = time.Now()

	if err := d.stateMgr.Initialize(ctx); err != nil {
		return fmt.Errorf("state initialization failed: %w", err)
	}
	d.broker.Start()

	dispatchCtx, cancel := context.WithCancel(context.Background())
	d.dispatchCancel = cancel
	go d.dispatcher.Run(dispatchCtx)

	if err := d.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health monitor: %w", err)
	}
	if err := d.httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start admin server: %w", err)
	}

	if configPath != "" {
		watcher, err := NewConfigWatcher(configPath, d)
		if err != nil {
			slog.Warn("Config watcher unavailable, hot reload disabled", "error", err)
		} else {
			d.watcher = watcher
			if err := watcher.Start(ctx); err != nil {
				slog.Warn("Failed to start config watcher", "error", err)
				d.watcher = nil
			}
		}
	}

	slog.Info("Daemon started",
		"transport", d.cfg.Broker.TransportURL,
		"admin_port", d.cfg.Admin.Port)
	return nil
}

// Stop tears components down in reverse start order.
func (d *Daemon) Stop(ctx context.Context) error {
	slog.Info("Stopping daemon")

	if d.watcher != nil {
		d.watcher.Stop()
	}
	if err := d.httpServer.Stop(ctx); err != nil {
		slog.Warn("Admin server shutdown error", "error", err)
	}
	if err := d.monitor.Stop(); err != nil {
		slog.Warn("Health monitor shutdown error", "error", err)
	}
	if d.dispatchCancel != nil {
		d.dispatchCancel()
		d.dispatcher.Wait()
	}
	if err := d.broker.Close(); err != nil {
		slog.Warn("Broker shutdown error", "error", err)
	}
	if err := d.store.Close(); err != nil {
		slog.Warn("Store close error", "error", err)
	}

	slog.Info("Daemon stopped", "uptime", time.Since(d.startedAt).Round(time.Second))
	return nil
}

// Config returns the live configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// ReloadConfig applies a changed configuration. Only settings that can
// change without restarting components take effect: harpoon limits,
// screenshot settings, and the health error threshold. Transport,
// storage, and port changes need a restart and are logged.
func (d *Daemon) ReloadConfig(ctx context.Context, next *config.Config) error {
	d.mu.Lock()
	prev := d.cfg
	d.cfg = next
	d.mu.Unlock()

	if next.Broker.TransportURL != prev.Broker.TransportURL {
		slog.Warn("Transport URL change requires restart", "url", next.Broker.TransportURL)
	}
	if next.Storage.DBPath != prev.Storage.DBPath {
		slog.Warn("Storage path change requires restart", "path", next.Storage.DBPath)
	}
	if next.Admin.Port != prev.Admin.Port {
		slog.Warn("Admin port change requires restart", "port", next.Admin.Port)
	}

	// Reconfigure in place; the dispatcher and health checkers hold the
	// same manager instance for the life of the process.
	d.screenshots.Reconfigure(next.SettleDelay(), next.Screenshot.ExcludePatterns)

	slog.Info("Configuration reloaded")
	return nil
}

// Managers expose the event-facing layer to the transport handlers.
func (d *Daemon) Tabs() *managers.TabManager               { return d.tabs }
func (d *Daemon) Windows() *managers.WindowManager         { return d.windows }
func (d *Daemon) Harpoon() *managers.HarpoonManager        { return d.harpoon }
func (d *Daemon) Screenshots() *managers.ScreenshotManager { return d.screenshots }

// Events is the channel host browser events are fed into.
func (d *Daemon) Events() chan<- managers.HostEvent { return d.dispatcher.Events() }

// State returns the state manager.
func (d *Daemon) State() *state.Manager { return d.stateMgr }

// Broker returns the message broker.
func (d *Daemon) Broker() *broker.Broker { return d.broker }

// Monitor returns the health monitor.
func (d *Daemon) Monitor() *recovery.Monitor { return d.monitor }

// recoveryActions binds the recovery plan to the daemon's components.
func (d *Daemon) recoveryActions() recovery.Actions {
	return recovery.Actions{
		CleanupQueues: func(ctx context.Context) error {
			d.broker.ClearQueue()
			return nil
		},
		RepairState: func(ctx context.Context) error {
			_, err := d.stateMgr.RepairPartitions(ctx)
			return err
		},
		ResetState: func(ctx context.Context) error {
			// Operator-only: wipe every persisted slice.
			for _, key := range []string{state.KeyTabHistory, state.KeyHarpoonTabs} {
				if err := d.store.Delete(ctx, key); err != nil {
					return err
				}
			}
			return nil
		},
		RestartTransport: func(ctx context.Context) error {
			// The queue drains on its own once endpoints reconnect;
			// dropping parked messages is the safe fallback when the
			// transport is wedged.
			d.broker.ClearQueue()
			return nil
		},
		NotifyModeChange: func(ctx context.Context, mode string) {
			// Transient notice; with nobody connected there is no
			// point parking it in the queue.
			endpoints, err := d.broker.Endpoints(ctx)
			if err != nil || len(endpoints) == 0 {
				return
			}
			msgType := managers.MsgModeChanged
			if mode == string(recovery.ModeSafeMode) {
				msgType = managers.MsgSafeModeEntered
			}
			payload, _ := json.Marshal(map[string]string{"mode": mode})
			d.broker.BroadcastToAll(ctx, broker.NewEnvelope(msgType, payload,
				broker.WithPriority(broker.PriorityHigh)))
		},
	}
}
