// ABOUTME: Plumbing shared by the music, effect and voice layers
// ABOUTME: Wraps pool acquisition, instance ramps, removal and goroutine tracking
package stage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harperreed/stagesound/pkg/audio/fade"
	"github.com/harperreed/stagesound/pkg/audio/future"
	"github.com/harperreed/stagesound/pkg/audio/output"
	"github.com/harperreed/stagesound/pkg/audio/pool"
)

type layer struct {
	name   Layer
	pool   *pool.Pool
	fades  *fade.Scheduler
	events *emitter
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	trackMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

func newLayer(name Layer, p *pool.Pool, fades *fade.Scheduler, events *emitter, logger *slog.Logger) *layer {
	ctx, cancel := context.WithCancel(context.Background())
	return &layer{
		name:   name,
		pool:   p,
		fades:  fades,
		events: events,
		logger: logger.With("module", string(name)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// spawn runs fn on a tracked goroutine. It reports false once the layer shut down.
func (l *layer) spawn(fn func()) bool {
	l.trackMu.Lock()
	defer l.trackMu.Unlock()
	if l.closed {
		return false
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
	return true
}

// shutdown cancels in-flight loads and waits for tracked goroutines
func (l *layer) shutdown() {
	l.trackMu.Lock()
	l.closed = true
	l.trackMu.Unlock()

	l.cancel()
	l.wg.Wait()
}

// load acquires src and waits for it, returning a pinned, ready resource
func (l *layer) load(src string, mode output.Mode) (*pool.Resource, error) {
	res := l.pool.Acquire(src, mode)
	if err := l.pool.EnsureLoaded(l.ctx, res); err != nil {
		l.pool.Unpin(res)
		l.logger.Error("load failed", "src", src, "error", err)
		l.events.emit(Event{Kind: EventLoadFailed, Layer: l.name, Src: src, Err: err})
		return nil, err
	}
	return res, nil
}

// start spawns an instance on a loaded resource
func (l *layer) start(res *pool.Resource, speakerID string) (*pool.Instance, error) {
	inst, err := l.pool.Spawn(res, speakerID)
	if err != nil {
		l.logger.Error("spawn failed", "src", res.Src, "error", err)
		l.events.emit(Event{Kind: EventLoadFailed, Layer: l.name, Src: res.Src, Err: err})
		return nil, err
	}
	return inst, nil
}

func (l *layer) fadeTo(inst *pool.Instance, to float64, d time.Duration, onComplete func()) *future.Future[fade.Outcome] {
	return l.fades.Fade(fade.Key(inst.Src, inst.ID), inst.Voice, to, d, onComplete)
}

func (l *layer) cancelFade(inst *pool.Instance) {
	l.fades.Cancel(fade.Key(inst.Src, inst.ID))
}

// remove cancels the instance ramp and releases it to the pool.
// Only the first removal of an instance emits an event.
func (l *layer) remove(inst *pool.Instance, kind EventKind) bool {
	l.cancelFade(inst)
	if !l.pool.Release(inst.Resource, inst.ID) {
		return false
	}
	l.emit(kind, inst)
	return true
}

// halt stops and removes an instance immediately
func (l *layer) halt(inst *pool.Instance) {
	l.cancelFade(inst)
	inst.Voice.Stop()
	l.remove(inst, EventStopped)
}

func (l *layer) emit(kind EventKind, inst *pool.Instance) {
	l.events.emit(Event{
		Kind:       kind,
		Layer:      l.name,
		Src:        inst.Src,
		InstanceID: inst.ID,
		SpeakerID:  inst.SpeakerID,
	})
}

// settle resolves done once every ramp has finished, or the layer shuts down
func (l *layer) settle(done *future.Future[struct{}], ramps ...*future.Future[fade.Outcome]) *future.Future[struct{}] {
	pending := ramps[:0:0]
	for _, r := range ramps {
		if r != nil && r.State() == future.Pending {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		done.Resolve(struct{}{})
		return done
	}

	if !l.spawn(func() {
		if err := join(l.ctx, pending...); err != nil {
			done.Reject(ErrDestroyed)
			return
		}
		done.Resolve(struct{}{})
	}) {
		done.Reject(ErrDestroyed)
	}
	return done
}

// join waits for every ramp to finish
func join(ctx context.Context, ramps ...*future.Future[fade.Outcome]) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range ramps {
		if r == nil {
			continue
		}
		g.Go(func() error {
			_, err := r.Wait(gctx)
			return err
		})
	}
	return g.Wait()
}
