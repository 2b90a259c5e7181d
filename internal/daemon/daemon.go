// Package daemon implements the deckhandd background service.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/drewfead/deckhand/internal/action"
	"github.com/drewfead/deckhand/internal/config"
	"github.com/drewfead/deckhand/internal/discord"
	"github.com/drewfead/deckhand/internal/executil"
	"github.com/drewfead/deckhand/internal/helper"
	"github.com/drewfead/deckhand/internal/logging"
	"github.com/drewfead/deckhand/internal/nowplaying"
	"github.com/drewfead/deckhand/internal/platform"
	"github.com/drewfead/deckhand/internal/provider"
	"github.com/drewfead/deckhand/internal/scheduler"
	"github.com/drewfead/deckhand/internal/session"
	"github.com/drewfead/deckhand/internal/soundboard"
	"github.com/drewfead/deckhand/internal/spectrum"
	"github.com/drewfead/deckhand/internal/store"
)

// DefaultShutdownTimeout bounds graceful shutdown when the config leaves it unset.
const DefaultShutdownTimeout = 10 * time.Second

// Options carries what the daemon needs beyond the config file itself.
type Options struct {
	ConfigPath string
	Version    string
	// Runner executes platform commands. Nil uses the system runner.
	Runner executil.Runner
	// HelperOptions are applied to every helper supervisor.
	HelperOptions []helper.Option
}

// Daemon owns every long-lived component and the wiring between them.
type Daemon struct {
	config     *config.Live
	configPath string
	version    string
	startedAt  time.Time

	store     *store.Store
	caps      platform.Capabilities
	registry  *provider.Registry
	sessions  *session.Set
	scheduler *scheduler.Scheduler
	engine    *action.Engine
	server    *session.Server
	watcher   *config.Watcher

	helpers    []*helper.Supervisor
	nowPlaying *nowplaying.Client
	soundboard *soundboard.Manager
	discord    *discord.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	reloadMu     sync.Mutex
	shutdownOnce sync.Once
}

// New creates a daemon instance. Nothing listens until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	st, err := store.New(cfg.Daemon.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	caps, err := platform.New(cfg.Platform.Backend, opts.Runner)
	if err != nil {
		st.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		config:     config.NewLive(cfg),
		configPath: opts.ConfigPath,
		version:    opts.Version,
		startedAt:  time.Now(),
		store:      st,
		caps:       caps,
		registry:   provider.NewRegistry(),
		sessions:   session.NewSet(),
		ctx:        ctx,
		cancel:     cancel,
	}

	if err := d.registerProviders(cfg, opts.HelperOptions); err != nil {
		d.closeProviders()
		st.Close()
		cancel()
		return nil, err
	}

	d.scheduler = scheduler.New(d.registry, d.sessions, d.sessions, d.config.ReferencedSources)
	d.engine = action.NewEngine(d.actionDeps())
	d.server = session.NewServer(session.Config{
		Addr:               cfg.Daemon.Listen,
		Set:                d.sessions,
		Dispatcher:         d.engine,
		OnMembershipChange: d.scheduler.Refresh,
		Status:             d.status,
		Profile:            d.config.ActiveProfile,
	})

	if d.configPath != "" {
		w, err := config.NewWatcher(d.configPath, cfg.Daemon.ConfigDebounce, func(string) {
			if err := d.reloadConfig(); err != nil {
				logging.Error("config reload failed", "error", err)
			}
		})
		if err != nil {
			logging.Warn("config watcher unavailable, reload with SIGHUP", "path", d.configPath, "error", err)
		} else {
			d.watcher = w
		}
	}

	return d, nil
}

func (d *Daemon) registerProviders(cfg *config.Config, helperOpts []helper.Option) error {
	register := func(p provider.Provider) error {
		if err := d.registry.Register(p); err != nil {
			return fmt.Errorf("register provider: %w", err)
		}
		return nil
	}

	if hc := cfg.Helpers.NowPlaying; hc.Enabled {
		d.nowPlaying = nowplaying.New(hc, helperOpts...)
		d.helpers = append(d.helpers, d.nowPlaying.Supervisor)
		if err := register(d.nowPlaying); err != nil {
			return err
		}
	}
	if hc := cfg.Helpers.Spectrum; hc.Enabled {
		sp := spectrum.New(hc, helperOpts...)
		d.helpers = append(d.helpers, sp)
		if err := register(sp); err != nil {
			return err
		}
	}
	if hc := cfg.Helpers.Soundboard; hc.Enabled {
		d.soundboard = soundboard.New(hc, helperOpts...)
		d.helpers = append(d.helpers, d.soundboard.Supervisor)
		if err := register(d.soundboard); err != nil {
			return err
		}
	}

	switch {
	case !cfg.Discord.Enabled:
	case cfg.Discord.ClientID == "":
		logging.Warn("discord enabled but no client_id configured, skipping")
	default:
		d.discord = discord.New(discord.OptionsFromConfig(cfg.Discord, d.store.DiscordTokens()))
		if err := register(d.discord); err != nil {
			return err
		}
	}

	if d.caps.Name() != "none" {
		interval := cfg.Platform.VolumeInterval
		if interval <= 0 {
			interval = time.Second
		}
		if err := register(platform.VolumeProvider(d.caps, interval)); err != nil {
			return err
		}
	}

	logging.Info("providers registered", "providers", d.registry.Names(), "platform", d.caps.Name())
	return nil
}

// actionDeps leaves a group nil when its backend is disabled so its action
// types stay unregistered.
func (d *Daemon) actionDeps() action.Deps {
	deps := action.Deps{Platform: d.caps, Profiles: d}
	if d.nowPlaying != nil {
		deps.NowPlaying = d.nowPlaying
	}
	if d.discord != nil {
		deps.Discord = d.discord
	}
	if d.soundboard != nil {
		deps.Soundboard = d.soundboard
	}
	return deps
}

// SwitchProfile changes the active profile and reconciles pollers against it.
func (d *Daemon) SwitchProfile(name string) error {
	if err := d.config.SwitchProfile(name); err != nil {
		return err
	}
	logging.Info("profile switched", "profile", name, "sources", d.config.ReferencedSources())
	d.scheduler.Refresh()
	return nil
}

// Addr returns the address the session server is bound to.
func (d *Daemon) Addr() string {
	return d.server.Addr()
}

// Start begins serving sessions and watching the config file.
func (d *Daemon) Start() error {
	if err := d.server.Start(); err != nil {
		return err
	}
	logging.Info("session server listening", "addr", d.server.Addr(), "profile", d.config.ActiveProfile())

	if d.watcher != nil {
		d.wg.Add(1)
		d.safeGo("config-watcher", func() {
			defer d.wg.Done()
			if err := d.watcher.Run(d.ctx); err != nil {
				logging.Warn("config watcher stopped", "error", err)
			}
		})
	}
	return nil
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2) // Buffer of 2 for second signal
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	return d.signalLoop(sigCh)
}

// signalLoop handles OS signals for reload and graceful shutdown.
func (d *Daemon) signalLoop(sigCh <-chan os.Signal) error {
	for {
		sig := <-sigCh

		switch sig {
		case syscall.SIGHUP:
			logging.Info("received SIGHUP, reloading config")
			if err := d.reloadConfig(); err != nil {
				logging.Error("config reload failed", "error", err)
			}

		case syscall.SIGINT, syscall.SIGTERM:
			logging.Info("received shutdown signal, starting graceful shutdown", "signal", sig.String())

			shutdownDone := make(chan struct{})
			go func() {
				d.Shutdown()
				close(shutdownDone)
			}()

			select {
			case <-shutdownDone:
				logging.Info("graceful shutdown complete")
				return nil

			case sig2 := <-sigCh:
				logging.Warn("received second signal, forcing immediate shutdown", "signal", sig2.String())
				d.forceShutdown()
				return fmt.Errorf("forced shutdown by signal: %s", sig2.String())
			}
		}
	}
}

// Shutdown stops the server, pollers, helpers and IPC client, then closes
// the store. Safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		timeout := d.config.Get().Daemon.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		d.cancel()

		// Sessions go first so no action lands on a closing helper.
		if err := d.server.Stop(ctx); err != nil {
			logging.Warn("session server stop", "error", err)
		}

		var g errgroup.Group
		g.Go(func() error {
			d.scheduler.Stop()
			return nil
		})
		for _, h := range d.helpers {
			g.Go(func() error {
				if err := h.Close(); err != nil {
					return fmt.Errorf("close helper %s: %w", h.Name(), err)
				}
				return nil
			})
		}
		if d.discord != nil {
			g.Go(d.discord.Close)
		}

		done := make(chan error, 1)
		go func() { done <- g.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				logging.Warn("component shutdown", "error", err)
			}
		case <-ctx.Done():
			logging.Warn("shutdown timeout exceeded, some components may still be running")
		}

		d.wg.Wait()

		if err := d.store.Close(); err != nil {
			logging.Error("error closing database", "error", err)
		}

		logging.Info("flushing Sentry events")
		logging.Flush(2 * time.Second)
	})
}

// forceShutdown kills helpers and closes the store without waiting on anything else.
func (d *Daemon) forceShutdown() {
	d.cancel()
	d.closeProviders()
	d.store.Close()
	logging.Flush(500 * time.Millisecond)
}

func (d *Daemon) closeProviders() {
	for _, h := range d.helpers {
		h.Close()
	}
	if d.discord != nil {
		d.discord.Close()
	}
}

// reloadConfig re-reads the config file and applies its layout. Other
// sections take effect on restart.
func (d *Daemon) reloadConfig() error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()

	path := d.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	newCfg, err := config.LoadFile(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d.config.ReplaceLayout(newCfg)
	d.scheduler.Refresh()

	logging.Info("config reloaded",
		"profile", d.config.ActiveProfile(),
		"sources", d.config.ReferencedSources(),
		"running", d.scheduler.Running())
	return nil
}

func (d *Daemon) status() session.StatusReport {
	report := session.StatusReport{
		Version:   d.version,
		StartedAt: d.startedAt,
		Platform:  d.caps.Name(),
		Profile:   d.config.ActiveProfile(),
		Sources:   d.config.ReferencedSources(),
		Pollers:   d.scheduler.Status(),
		Actions:   d.engine.Types(),
	}
	for _, h := range d.helpers {
		report.Helpers = append(report.Helpers, h.Status())
	}
	if d.discord != nil {
		st := d.discord.Status()
		report.Discord = &st
	}
	return report
}

// safeGo runs a function in a goroutine with panic recovery.
func (d *Daemon) safeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.CapturePanic(r, "goroutine", name)
			}
		}()
		fn()
	}()
}
