// ABOUTME: Daemon orchestration for `stagesound serve`
// ABOUTME: Wires device, engine, control server, discovery, watcher, metrics and TUI
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/stagesound/internal/config"
	"github.com/harperreed/stagesound/internal/control"
	"github.com/harperreed/stagesound/internal/discovery"
	"github.com/harperreed/stagesound/internal/fetch"
	"github.com/harperreed/stagesound/internal/metrics"
	"github.com/harperreed/stagesound/internal/ui"
	"github.com/harperreed/stagesound/internal/watch"
	"github.com/harperreed/stagesound/pkg/audio/output"
	"github.com/harperreed/stagesound/pkg/stage"
)

// Options overrides parts of the daemon, mainly for tests
type Options struct {
	Logger   *slog.Logger
	Device   output.Device // default: the system device reading through the fetcher
	Listener net.Listener  // default: listen on the configured address
	Registry *prometheus.Registry
}

// Daemon hosts one engine and its surrounding services
type Daemon struct {
	config *config.Config
	logger *slog.Logger
	name   string

	device     output.Device
	ownsDevice bool
	fetcher    *fetch.Fetcher
	engine     *stage.Engine
	server     *control.Server
	metrics    *metrics.EngineMetrics
	listener   net.Listener
	closeOnce  sync.Once
}

// New builds every component but starts nothing
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Server.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		name = hostname + "-stagesound"
	}

	d := &Daemon{
		config: cfg,
		logger: logger.With("module", "app"),
		name:   name,
		fetcher: fetch.New(fetch.Config{
			Root:     cfg.Assets.Root,
			Timeout:  cfg.Fetch.Timeout,
			CacheTTL: cfg.Fetch.CacheTTL,
			MaxBytes: cfg.Fetch.MaxBytes,
			Logger:   logger,
		}),
		device:   opts.Device,
		listener: opts.Listener,
	}

	if d.device == nil {
		dev, err := output.NewOto(output.Config{
			SampleRate: cfg.Output.SampleRate,
			Channels:   cfg.Output.Channels,
			BufferSize: cfg.Output.BufferSize,
			Opener:     d.fetcher,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open audio device: %w", err)
		}
		d.device = dev
		d.ownsDevice = true
	}

	engine, err := stage.New(d.device, stage.EngineConfig{
		PoolSize:         cfg.Engine.PoolSize,
		MaxConcurrentSfx: cfg.Engine.MaxConcurrentSfx,
		LoadTimeout:      cfg.Engine.LoadTimeout,
		FadeTick:         cfg.Engine.FadeTick,
		ProgressInterval: cfg.Engine.ProgressInterval,
		InterruptFade:    cfg.Engine.InterruptFade,
		Logger:           logger,
	})
	if err != nil {
		d.closeDevice()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	d.engine = engine

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = opts.Registry
		if registry == nil {
			registry = prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		}
		m, err := metrics.New(registry, engine.Stats)
		if err != nil {
			engine.Destroy()
			d.closeDevice()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		d.metrics = m
	}

	d.server = control.New(engine, control.Config{
		Addr:           cfg.Server.Addr,
		Name:           name,
		Path:           cfg.Server.Path,
		Registry:       registry,
		CommandTimeout: cfg.Server.CommandTimeout,
		Logger:         logger,
	})
	return d, nil
}

// Engine returns the hosted engine
func (d *Daemon) Engine() *stage.Engine {
	return d.engine
}

// Name returns the advertised server name
func (d *Daemon) Name() string {
	return d.name
}

// Addr returns the listening address once Run has started listening
func (d *Daemon) Addr() net.Addr {
	if d.listener == nil {
		return nil
	}
	return d.listener.Addr()
}

// Run serves until ctx is done or the TUI quits, then tears everything down
func (d *Daemon) Run(ctx context.Context) error {
	defer d.Close()

	if d.listener == nil {
		ln, err := net.Listen("tcp", d.config.Server.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", d.config.Server.Addr, err)
		}
		d.listener = ln
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if d.metrics != nil {
		events, unsubscribe := d.engine.Subscribe(256)
		g.Go(func() error {
			defer unsubscribe()
			d.metrics.Run(gctx, events)
			return nil
		})
	}

	if d.config.Assets.Watch {
		w, err := watch.New(watch.Config{
			Root:     d.config.Assets.Root,
			Debounce: d.config.Assets.Debounce,
			Logger:   d.logger,
		}, d.engine.Invalidate)
		if err != nil {
			d.logger.Warn("asset watching disabled", "root", d.config.Assets.Root, "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if d.config.Server.Discovery {
		if port, ok := listenPort(d.listener); ok {
			mgr := discovery.NewManager(discovery.Config{
				ServiceName: d.name,
				Port:        port,
				Path:        d.config.Server.Path,
				Logger:      d.logger,
			})
			if err := mgr.Advertise(); err != nil {
				d.logger.Warn("mdns advertisement failed", "error", err)
			} else {
				defer mgr.Stop()
			}
		}
	}

	g.Go(func() error { return d.server.ServeListener(gctx, d.listener) })

	if d.config.UI.Enabled {
		tui := ui.New(d)
		events, unsubscribe := d.engine.Subscribe(64)
		g.Go(func() error {
			defer unsubscribe()
			err := tui.Run(gctx, d.status, 250*time.Millisecond, events)
			// quitting the view stops the daemon
			cancel()
			return err
		})
	}

	d.logger.Info("daemon running", "name", d.name, "addr", d.listener.Addr().String(), "assets", d.config.Assets.Root)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases the engine and device without serving. Safe to call more than once.
func (d *Daemon) Close() {
	d.closeOnce.Do(func() {
		d.server.Close()
		d.engine.Destroy()
		d.closeDevice()
		d.logger.Info("daemon stopped")
	})
}

func (d *Daemon) closeDevice() {
	if d.ownsDevice {
		if err := d.device.Close(); err != nil {
			d.logger.Warn("closing audio device", "error", err)
		}
	}
}

func (d *Daemon) status() ui.StatusMsg {
	addr := ""
	if d.listener != nil {
		addr = d.listener.Addr().String()
	}
	return ui.StatusMsg{
		Name:    d.name,
		Addr:    addr,
		Clients: d.server.Clients(),
		Stats:   d.engine.Stats(),
	}
}

// SetMusicVolume implements ui.Controls
func (d *Daemon) SetMusicVolume(v float64) {
	d.engine.Bgm().SetVolume(v)
}

// StopAll implements ui.Controls
func (d *Daemon) StopAll() {
	const fade = 300 * time.Millisecond
	d.engine.Bgm().Stop(fade)
	d.engine.Sfx().StopAll(fade)
	d.engine.Voice().StopAll(fade)
}

func listenPort(ln net.Listener) (int, bool) {
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return 0, false
	}
	return addr.Port, true
}
