// cmd/app.go
package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/replyforge-ai/replyforge-cli/internal/backend"
	"github.com/replyforge-ai/replyforge-cli/internal/bulk"
	"github.com/replyforge-ai/replyforge-cli/internal/config"
	"github.com/replyforge-ai/replyforge-cli/internal/content"
	"github.com/replyforge-ai/replyforge-cli/internal/identity"
	"github.com/replyforge-ai/replyforge-cli/internal/ledger"
	"github.com/replyforge-ai/replyforge-cli/internal/notify"
	"github.com/replyforge-ai/replyforge-cli/internal/orchestrator"
	"github.com/replyforge-ai/replyforge-cli/internal/ratelimit"
	"github.com/replyforge-ai/replyforge-cli/internal/watch"
)

// app owns the wired component graph for one command invocation.
// Commands build what they need through it and Close tears everything
// down in reverse order.
type app struct {
	cfg      *config.Config
	dir      string
	sessions *identity.Manager
	api      *backend.Client
	store    *ledger.Store
	ledger   *ledger.Client

	watcher *watch.Watcher
	bridge  *content.Bridge
	sink    notify.Sink
}

// newApp loads configuration and builds the always-needed core:
// session manager, backend client, and credit ledger.
func newApp() (*app, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	// Flags beat the config file.
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if bridgeURL != "" {
		cfg.BridgeURL = bridgeURL
	}

	sessions, err := identity.NewManager(filepath.Join(dir, "session.yaml"))
	if err != nil {
		return nil, err
	}

	var token string
	if s := sessions.Current(); s != nil {
		token = s.Token
	}
	api := backend.NewClient(backend.ClientConfig{
		BaseURL:   cfg.APIURL,
		Token:     token,
		DebugFunc: Debug,
	})

	store, err := ledger.OpenStore(filepath.Join(dir, "ledger.db"))
	if err != nil {
		sessions.Close()
		return nil, err
	}

	led, err := ledger.NewClient(ledger.Config{
		API:         api,
		Store:       store,
		Sessions:    sessions,
		StartOnline: true,
		LogFn:       logFn,
	})
	if err != nil {
		store.Close()
		sessions.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		dir:      dir,
		sessions: sessions,
		api:      api,
		store:    store,
		ledger:   led,
		sink:     notify.NewConsoleSink(nil),
	}, nil
}

// startConnectivity runs the backend probe loop for the lifetime of
// ctx, flipping the ledger between online and offline mode. A restored
// connection triggers the offline queue drain.
func (a *app) startConnectivity(ctx context.Context) {
	mon := ledger.NewMonitor(ledger.MonitorConfig{
		Pinger:       a.api,
		OnTransition: a.ledger.SetOnline,
		LogFn:        logFn,
	})
	go func() { _ = mon.Start(ctx) }()
}

// openWatcher connects to Redis on first use.
func (a *app) openWatcher() (*watch.Watcher, error) {
	if a.watcher != nil {
		return a.watcher, nil
	}
	w, err := watch.NewWatcher(watch.WatcherConfig{
		RedisURL:      a.cfg.RedisURL,
		RedisPassword: a.cfg.RedisPassword,
		LogFn:         logFn,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to job record store: %w", err)
	}
	a.watcher = w
	return w, nil
}

// connectBridge dials the page script on first use.
func (a *app) connectBridge(ctx context.Context) (*content.Bridge, error) {
	if a.bridge != nil {
		return a.bridge, nil
	}
	b := content.NewBridge(content.BridgeConfig{
		URL:       a.cfg.BridgeURL,
		DebugFunc: Debug,
	})
	if err := b.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to review page bridge at %s: %w", a.cfg.BridgeURL, err)
	}
	a.bridge = b
	return b, nil
}

// buildOrchestrator wires the generation pipeline. agent may be nil
// when no page is attached.
func (a *app) buildOrchestrator(agent content.Agent) (*orchestrator.Orchestrator, error) {
	watcher, err := a.openWatcher()
	if err != nil {
		return nil, err
	}
	return orchestrator.New(orchestrator.Config{
		Jobs:     a.api,
		Ledger:   a.ledger,
		Sessions: a.sessions,
		Limiter:  ratelimit.New(ratelimit.Config{}),
		Watch: func(ctx context.Context, userID, jobID string) (orchestrator.JobWatch, error) {
			return watcher.Watch(ctx, userID, jobID)
		},
		Agent:  agent,
		Notify: a.sink,
		LogFn:  logFn,
	})
}

// buildDriver wires the bulk pipeline on top of a connected bridge.
func (a *app) buildDriver(agent content.Agent, confirm bulk.ConfirmFunc) (*bulk.Driver, error) {
	orch, err := a.buildOrchestrator(agent)
	if err != nil {
		return nil, err
	}
	return bulk.New(bulk.Config{
		Agent:     agent,
		Generator: orch,
		Validator: a.ledger,
		Sessions:  a.sessions,
		Confirm:   confirm,
		Notify:    a.sink,
		Enabled: map[bulk.Mode]bool{
			bulk.ModePositive: a.cfg.BulkPositiveEnabled,
			bulk.ModeFull:     a.cfg.BulkFullEnabled,
		},
		SystemPrompt: a.cfg.SystemPrompt,
		LogFn:        logFn,
	})
}

// Close releases everything newApp and the lazy builders opened.
func (a *app) Close() {
	if a.bridge != nil {
		a.bridge.Close()
	}
	if a.watcher != nil {
		a.watcher.Close()
	}
	a.ledger.Close()
	a.store.Close()
	a.sessions.Close()
}
