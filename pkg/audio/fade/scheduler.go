// ABOUTME: Ticker-driven volume ramp scheduler
// ABOUTME: Runs at most one cancellable ramp per key on a single goroutine
package fade

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harperreed/stagesound/pkg/audio/future"
)

// Target is anything with a settable volume
type Target interface {
	Volume() float64
	SetVolume(v float64)
}

// Outcome reports how a ramp ended
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
)

func (o Outcome) String() string {
	if o == Cancelled {
		return "cancelled"
	}
	return "completed"
}

// Config holds scheduler configuration
type Config struct {
	Tick   time.Duration // Interval between volume writes (default 10ms)
	Logger *slog.Logger
}

// Scheduler drives volume ramps
type Scheduler struct {
	tick   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	target     Target
	from, to   float64
	start      time.Time
	duration   time.Duration
	ease       Ease
	onComplete func()
	result     *future.Future[Outcome]
}

// Key builds the ramp key for an instance of a source
func Key(src, instanceID string) string {
	return src + "#" + instanceID
}

// New creates a scheduler and starts its loop
func New(config Config) *Scheduler {
	if config.Tick <= 0 {
		config.Tick = 10 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		tick:   config.Tick,
		logger: config.Logger.With("module", "fade"),
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Fade ramps target's volume to `to` over d.
// A ramp already running for key is cancelled first without applying its target.
// With d <= 0 (or after Close) the volume is applied and onComplete runs before Fade returns.
func (s *Scheduler) Fade(key string, target Target, to float64, d time.Duration, onComplete func()) *future.Future[Outcome] {
	to = clamp01(to)
	result := future.New[Outcome]()

	s.mu.Lock()
	prev := s.tasks[key]
	delete(s.tasks, key)

	if d <= 0 || s.closed {
		target.SetVolume(to)
		s.mu.Unlock()

		if prev != nil {
			prev.result.Resolve(Cancelled)
		}
		result.Resolve(Completed)
		if onComplete != nil {
			onComplete()
		}
		return result
	}

	from := target.Volume()
	s.tasks[key] = &task{
		target:     target,
		from:       from,
		to:         to,
		start:      time.Now(),
		duration:   d,
		ease:       EaseFor(from, to),
		onComplete: onComplete,
		result:     result,
	}
	s.mu.Unlock()

	if prev != nil {
		s.logger.Debug("fade superseded", "key", key)
		prev.result.Resolve(Cancelled)
	}
	return result
}

// Cancel stops the ramp for key. No volume write for key happens after Cancel returns.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	t, ok := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()

	if ok {
		t.result.Resolve(Cancelled)
	}
	return ok
}

// CancelPrefix cancels every ramp whose key belongs to src
func (s *Scheduler) CancelPrefix(src string) int {
	prefix := src + "#"
	var cancelled []*task

	s.mu.Lock()
	for key, t := range s.tasks {
		if strings.HasPrefix(key, prefix) {
			cancelled = append(cancelled, t)
			delete(s.tasks, key)
		}
	}
	s.mu.Unlock()

	for _, t := range cancelled {
		t.result.Resolve(Cancelled)
	}
	return len(cancelled)
}

// Active reports whether a ramp is running for key
func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of running ramps
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close stops the loop and cancels every ramp. Safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	for _, t := range pending {
		t.result.Resolve(Cancelled)
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case now := <-ticker.C:
			s.step(now)
		}
	}
}

// step writes one interpolated volume per ramp and finishes expired ramps
func (s *Scheduler) step(now time.Time) {
	var finished []*task

	s.mu.Lock()
	for key, t := range s.tasks {
		elapsed := now.Sub(t.start)
		if elapsed >= t.duration {
			t.target.SetVolume(t.to)
			delete(s.tasks, key)
			finished = append(finished, t)
			continue
		}
		progress := t.ease(float64(elapsed) / float64(t.duration))
		t.target.SetVolume(t.from + (t.to-t.from)*progress)
	}
	s.mu.Unlock()

	for _, t := range finished {
		t.result.Resolve(Completed)
		if t.onComplete != nil {
			t.onComplete()
		}
	}
}
