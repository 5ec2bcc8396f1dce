// ABOUTME: Bounded LRU pool of loaded audio resources
// ABOUTME: Resources with sounding instances or pending acquirers are never evicted
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/stagesound/pkg/audio/output"
)

var (
	// ErrLoadTimeout is returned when a resource does not become ready within the load timeout
	ErrLoadTimeout = errors.New("pool: load timed out")
	// ErrLoad wraps the device error of a failed load
	ErrLoad = errors.New("pool: load failed")
	// ErrPoolClosed is returned for resources of a destroyed pool
	ErrPoolClosed = errors.New("pool: closed")
	// ErrNotLoaded is returned when spawning on a resource that is not ready
	ErrNotLoaded = errors.New("pool: resource not loaded")
)

// Config holds pool configuration
type Config struct {
	Size        int           // Soft bound on resource count (default 10)
	LoadTimeout time.Duration // Deadline for a resource to become ready (default 8s)
	Logger      *slog.Logger
	OnEvict     func(src string) // Called after a resource is evicted, outside the pool lock
}

// Stats is a snapshot of pool counters
type Stats struct {
	Resources    int
	Idle         int
	Instances    int
	Hits         uint64
	Misses       uint64
	Evictions    uint64
	Exhausted    uint64
	LoadFailures uint64
}

// Pool owns every loaded sound and the voices spawned from them
type Pool struct {
	device output.Device
	config Config
	logger *slog.Logger

	mu        sync.Mutex
	resources map[string]*Resource
	recency   *list.List // front = least recently used
	stats     Stats
	closed    bool

	loads sync.WaitGroup
}

// New creates a pool that loads through device
func New(device output.Device, config Config) *Pool {
	if config.Size <= 0 {
		config.Size = 10
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 8 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Pool{
		device:    device,
		config:    config,
		logger:    config.Logger.With("module", "pool"),
		resources: make(map[string]*Resource),
		recency:   list.New(),
	}
}

// Acquire returns the resource for src, creating it and starting its load on a miss.
// The returned resource is pinned against eviction until the caller passes it to
// Spawn or Unpin.
func (p *Pool) Acquire(src string, mode output.Mode) *Resource {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return closedResource(src, mode)
	}

	if r, ok := p.resources[src]; ok {
		if !r.reloadable() {
			p.stats.Hits++
			r.pins++
			p.touchLocked(r)
			p.mu.Unlock()
			return r
		}
		// A failed or stale idle resource is replaced by a fresh load
		p.logger.Debug("reloading resource", "src", src, "state", r.state, "stale", r.stale)
		evicted := p.removeLocked(r)
		defer p.finishEviction(evicted, false)
	}

	p.stats.Misses++
	evicted := p.relieveLocked()

	r := &Resource{
		Src:       src,
		Mode:      mode,
		state:     Loading,
		ready:     make(chan struct{}),
		instances: make(map[string]*Instance),
		lastUsed:  time.Now(),
		pins:      1,
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.config.LoadTimeout)
	r.cancel = cancel
	r.elem = p.recency.PushBack(r)
	p.resources[src] = r

	p.loads.Add(1)
	go p.load(ctx, r)

	p.mu.Unlock()

	for _, e := range evicted {
		p.finishEviction(e, true)
	}
	return r
}

// Lookup returns the resource for src without creating it or refreshing its recency
func (p *Pool) Lookup(src string) (*Resource, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.resources[src]
	return r, ok
}

// Touch marks r as recently used
func (p *Pool) Touch(r *Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resources[r.Src] == r {
		p.touchLocked(r)
	}
}

// Unpin drops the pin taken by Acquire without spawning an instance
func (p *Pool) Unpin(r *Resource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.pins > 0 {
		r.pins--
	}
}

// EnsureLoaded waits until r is ready.
// It fails with ErrLoadTimeout after the configured timeout and never evicts r.
func (p *Pool) EnsureLoaded(ctx context.Context, r *Resource) error {
	timer := time.NewTimer(p.config.LoadTimeout)
	defer timer.Stop()

	select {
	case <-r.ready:
	case <-timer.C:
		return fmt.Errorf("%s: %w", r.Src, ErrLoadTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return r.err
}

// Spawn creates a voice on a loaded resource and registers it as an active instance.
// It consumes the pin taken by Acquire whether or not it succeeds.
func (p *Pool) Spawn(r *Resource, speakerID string) (*Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r.pins > 0 {
		r.pins--
	}
	if p.closed {
		return nil, ErrPoolClosed
	}
	if r.state != Ready || p.resources[r.Src] != r {
		return nil, fmt.Errorf("%s: %w", r.Src, ErrNotLoaded)
	}

	voice, err := r.sound.NewVoice()
	if err != nil {
		return nil, fmt.Errorf("new voice for %s: %w", r.Src, err)
	}

	inst := &Instance{
		ID:        uuid.New().String(),
		Src:       r.Src,
		SpeakerID: speakerID,
		Voice:     voice,
		StartedAt: time.Now(),
		Resource:  r,
	}
	r.instances[inst.ID] = inst
	p.touchLocked(r)

	return inst, nil
}

// Release removes an instance from its resource and closes its voice.
// It reports whether id was still registered, so repeated releases are harmless.
func (p *Pool) Release(r *Resource, id string) bool {
	p.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		p.mu.Unlock()
		return false
	}
	delete(r.instances, id)
	r.lastUsed = time.Now()

	var evicted *Resource
	if r.stale && r.idle() && p.resources[r.Src] == r {
		p.logger.Debug("evicting stale resource", "src", r.Src)
		evicted = p.removeLocked(r)
		p.stats.Evictions++
	}
	p.mu.Unlock()

	inst.Voice.Close()
	if evicted != nil {
		p.finishEviction(evicted, true)
	}
	return true
}

// Invalidate drops src after its file changed: idle resources are evicted now,
// resources in use are evicted when their last instance is released.
func (p *Pool) Invalidate(src string) {
	p.mu.Lock()
	r, ok := p.resources[src]
	if !ok {
		p.mu.Unlock()
		return
	}
	if !r.idle() {
		r.stale = true
		p.mu.Unlock()
		p.logger.Debug("resource marked stale", "src", src)
		return
	}
	evicted := p.removeLocked(r)
	p.stats.Evictions++
	p.mu.Unlock()

	p.logger.Debug("resource invalidated", "src", src)
	p.finishEviction(evicted, true)
}

// Len returns the number of resources in the pool
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

// Sources returns resource sources from least to most recently used
func (p *Pool) Sources() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	srcs := make([]string, 0, p.recency.Len())
	for e := p.recency.Front(); e != nil; e = e.Next() {
		srcs = append(srcs, e.Value.(*Resource).Src)
	}
	return srcs
}

// Stats returns a snapshot of pool counters
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Resources = len(p.resources)
	for _, r := range p.resources {
		if r.idle() {
			s.Idle++
		}
		s.Instances += len(r.instances)
	}
	return s
}

// DestroyAll closes every instance and sound and empties the pool. Safe to call more than once.
func (p *Pool) DestroyAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	var voices []output.Voice
	var sounds []output.Sound
	for _, r := range p.resources {
		r.cancel()
		if r.state == Loading {
			r.err = ErrPoolClosed
		}
		for _, inst := range r.instances {
			voices = append(voices, inst.Voice)
		}
		r.instances = make(map[string]*Instance)
		if r.sound != nil {
			sounds = append(sounds, r.sound)
			r.sound = nil
		}
	}
	count := len(p.resources)
	p.resources = make(map[string]*Resource)
	p.recency.Init()
	p.mu.Unlock()

	for _, v := range voices {
		v.Stop()
		v.Close()
	}
	for _, s := range sounds {
		s.Close()
	}
	p.loads.Wait()

	p.logger.Debug("pool destroyed", "resources", count, "instances", len(voices))
}

func (p *Pool) load(ctx context.Context, r *Resource) {
	defer p.loads.Done()
	defer r.cancel()

	sound, err := p.device.Load(ctx, r.Src, r.Mode)

	p.mu.Lock()
	current := p.resources[r.Src] == r
	switch {
	case !current:
		// Evicted or destroyed while loading
		if r.err == nil {
			r.err = fmt.Errorf("%s: %w", r.Src, ErrPoolClosed)
		}
		r.state = Failed
	case err != nil:
		r.state = Failed
		if errors.Is(err, context.DeadlineExceeded) {
			r.err = fmt.Errorf("%s: %w", r.Src, ErrLoadTimeout)
		} else {
			r.err = fmt.Errorf("%w: %s: %w", ErrLoad, r.Src, err)
		}
		p.stats.LoadFailures++
	default:
		r.state = Ready
		r.sound = sound
		r.duration = sound.Duration()
	}
	close(r.ready)
	p.mu.Unlock()

	if err != nil && current {
		p.logger.Warn("resource load failed", "src", r.Src, "error", err)
	}
	if !current && sound != nil {
		sound.Close()
	}
}

// relieveLocked evicts least recently used idle resources while the pool is full
func (p *Pool) relieveLocked() []*Resource {
	var evicted []*Resource
	for len(p.resources) >= p.config.Size {
		var victim *Resource
		for e := p.recency.Front(); e != nil; e = e.Next() {
			if r := e.Value.(*Resource); r.idle() {
				victim = r
				break
			}
		}
		if victim == nil {
			p.stats.Exhausted++
			p.logger.Debug("pool exhausted, growing past size", "size", p.config.Size, "resources", len(p.resources))
			break
		}
		evicted = append(evicted, p.removeLocked(victim))
		p.stats.Evictions++
	}
	return evicted
}

func (p *Pool) removeLocked(r *Resource) *Resource {
	delete(p.resources, r.Src)
	p.recency.Remove(r.elem)
	r.cancel()
	return r
}

func (p *Pool) touchLocked(r *Resource) {
	r.lastUsed = time.Now()
	p.recency.MoveToBack(r.elem)
}

// finishEviction releases the sound of a removed resource outside the pool lock
func (p *Pool) finishEviction(r *Resource, notify bool) {
	p.mu.Lock()
	sound := r.sound
	r.sound = nil
	p.mu.Unlock()

	if sound != nil {
		sound.Close()
	}
	if notify {
		p.logger.Debug("resource evicted", "src", r.Src)
		if p.config.OnEvict != nil {
			p.config.OnEvict(r.Src)
		}
	}
}
