// ABOUTME: Engine ties the resource pool, fade scheduler and playback layers together
// ABOUTME: One engine per output device; Destroy tears everything down in dependency order
package stage

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/harperreed/stagesound/pkg/audio/fade"
	"github.com/harperreed/stagesound/pkg/audio/output"
	"github.com/harperreed/stagesound/pkg/audio/pool"
)

// EngineConfig holds engine configuration
type EngineConfig struct {
	PoolSize         int           // default 10
	MaxConcurrentSfx int           // default 20
	LoadTimeout      time.Duration // default 8s
	FadeTick         time.Duration // default 10ms
	ProgressInterval time.Duration // voice OnUpdate interval (default 100ms)
	InterruptFade    time.Duration // fade applied to interrupted voice lines (default 100ms)
	Logger           *slog.Logger
}

// Stats is a snapshot of engine activity
type Stats struct {
	Pool  pool.Stats
	Bgm   BgmState
	Sfx   int
	Voice int
}

// Engine is the audio engine
type Engine struct {
	config EngineConfig
	logger *slog.Logger

	pool   *pool.Pool
	fades  *fade.Scheduler
	events *emitter

	bgm   *Bgm
	sfx   *Sfx
	voice *Voice

	destroyOnce sync.Once
}

// New creates an engine playing through device
func New(device output.Device, config EngineConfig) (*Engine, error) {
	if device == nil {
		return nil, errors.New("stage: nil device")
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 10
	}
	if config.MaxConcurrentSfx <= 0 {
		config.MaxConcurrentSfx = 20
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 8 * time.Second
	}
	if config.FadeTick <= 0 {
		config.FadeTick = 10 * time.Millisecond
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = 100 * time.Millisecond
	}
	if config.InterruptFade <= 0 {
		config.InterruptFade = 100 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	e := &Engine{
		config: config,
		logger: config.Logger.With("module", "engine"),
		events: newEmitter(config.Logger.With("module", "events")),
	}
	e.pool = pool.New(device, pool.Config{
		Size:        config.PoolSize,
		LoadTimeout: config.LoadTimeout,
		Logger:      config.Logger,
		OnEvict: func(src string) {
			e.events.emit(Event{Kind: EventEvicted, Layer: LayerPool, Src: src})
		},
	})
	e.fades = fade.New(fade.Config{Tick: config.FadeTick, Logger: config.Logger})

	e.bgm = newBgm(newLayer(LayerBgm, e.pool, e.fades, e.events, config.Logger))
	e.sfx = newSfx(newLayer(LayerSfx, e.pool, e.fades, e.events, config.Logger), config.MaxConcurrentSfx)
	e.voice = newVoice(newLayer(LayerVoice, e.pool, e.fades, e.events, config.Logger), config.InterruptFade, config.ProgressInterval)

	e.logger.Info("engine started",
		"pool_size", config.PoolSize,
		"max_sfx", config.MaxConcurrentSfx,
		"load_timeout", config.LoadTimeout)
	return e, nil
}

// Bgm returns the music layer
func (e *Engine) Bgm() *Bgm { return e.bgm }

// Sfx returns the effect layer
func (e *Engine) Sfx() *Sfx { return e.sfx }

// Voice returns the voice layer
func (e *Engine) Voice() *Voice { return e.voice }

// Pool returns the shared resource pool
func (e *Engine) Pool() *pool.Pool { return e.pool }

// Subscribe returns a channel of engine events and a function that ends the subscription.
// Events are dropped for subscribers whose buffer is full.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	return e.events.subscribe(buffer)
}

// Stats returns a snapshot of the pool and layers
func (e *Engine) Stats() Stats {
	return Stats{
		Pool:  e.pool.Stats(),
		Bgm:   e.bgm.State(),
		Sfx:   e.sfx.Active(),
		Voice: e.voice.Active(),
	}
}

// Invalidate drops the cached copy of src so the next play reloads it
func (e *Engine) Invalidate(src string) {
	e.logger.Debug("invalidating", "src", src)
	e.pool.Invalidate(src)
}

// Destroy stops every layer and releases all audio handles. Safe to call more than once.
func (e *Engine) Destroy() {
	e.destroyOnce.Do(func() {
		e.bgm.Destroy()
		e.sfx.Destroy()
		e.voice.Destroy()
		e.fades.Close()
		e.pool.DestroyAll()
		e.events.close()
		e.logger.Info("engine destroyed")
	})
}
