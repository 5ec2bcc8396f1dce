// ABOUTME: One-shot sound effect layer
// ABOUTME: Caps concurrent effects, supports delayed triggers and repeat counts
package stage

import (
	"sort"
	"sync"
	"time"

	"github.com/harperreed/stagesound/pkg/audio/fade"
	"github.com/harperreed/stagesound/pkg/audio/future"
	"github.com/harperreed/stagesound/pkg/audio/output"
	"github.com/harperreed/stagesound/pkg/audio/pool"
)

type sfxEntry struct {
	inst      *pool.Instance
	remaining int // replays left after the current one; negative loops forever
	stopping  bool
}

type sfxTrigger struct {
	timer  *time.Timer
	result *future.Future[string]
}

// Sfx plays short overlapping effects
type Sfx struct {
	*layer
	max int

	mu        sync.Mutex
	active    map[string]*sfxEntry
	pending   map[uint64]*sfxTrigger
	nextID    uint64
	destroyed bool
}

func newSfx(l *layer, maxConcurrent int) *Sfx {
	return &Sfx{
		layer:   l,
		max:     maxConcurrent,
		active:  make(map[string]*sfxEntry),
		pending: make(map[uint64]*sfxTrigger),
	}
}

// Play triggers an effect, optionally after a delay.
// The future resolves with the instance id once it is sounding, rejects on
// load failure and is cancelled when StopAll drops a pending trigger.
func (s *Sfx) Play(opts SfxPlayOptions) *future.Future[string] {
	result := future.New[string]()

	volume := 1.0
	if opts.Volume != nil {
		volume = clampVolume(*opts.Volume)
	}
	loops := opts.LoopCount
	if loops == 0 {
		loops = 1
	}
	delay := opts.Delay
	if opts.DelayFunc != nil {
		delay = opts.DelayFunc()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		result.Reject(ErrDestroyed)
		return result
	}

	if delay <= 0 {
		s.dispatch(opts.Src, volume, loops, result)
		return result
	}

	id := s.nextID
	s.nextID++
	// The timer callback blocks on s.mu until the trigger is registered
	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.pending[id]; !ok {
			return
		}
		delete(s.pending, id)
		s.dispatch(opts.Src, volume, loops, result)
	})
	s.pending[id] = &sfxTrigger{timer: timer, result: result}
	return result
}

// dispatch starts the trigger goroutine. Called with s.mu held.
func (s *Sfx) dispatch(src string, volume float64, loops int, result *future.Future[string]) {
	if !s.spawn(func() { s.trigger(src, volume, loops, result) }) {
		result.Reject(ErrDestroyed)
	}
}

func (s *Sfx) trigger(src string, volume float64, loops int, result *future.Future[string]) {
	res, err := s.load(src, output.ModeBuffered)
	if err != nil {
		result.Reject(err)
		return
	}
	inst, err := s.start(res, "")
	if err != nil {
		result.Reject(err)
		return
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		s.remove(inst, EventStopped)
		result.Reject(ErrDestroyed)
		return
	}

	if len(s.active) >= s.max {
		s.evictOldestLocked()
	}

	infinite := loops < 0
	entry := &sfxEntry{inst: inst, remaining: loops - 1}
	if infinite {
		entry.remaining = -1
	}
	inst.Voice.SetVolume(volume)
	inst.Voice.SetLoop(infinite)
	inst.Voice.OnEnd(func() { s.ended(inst.ID) })
	s.active[inst.ID] = entry
	inst.Voice.Play()
	s.mu.Unlock()

	s.logger.Debug("effect started", "src", src, "instance", inst.ID, "loops", loops)
	s.emit(EventStarted, inst)
	result.Resolve(inst.ID)
}

// evictOldestLocked stops the earliest started effect immediately
func (s *Sfx) evictOldestLocked() {
	var oldest *sfxEntry
	for _, e := range s.active {
		if oldest == nil || e.inst.StartedAt.Before(oldest.inst.StartedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return
	}
	delete(s.active, oldest.inst.ID)
	s.logger.Debug("concurrency cap reached, stopping oldest", "max", s.max, "src", oldest.inst.Src, "instance", oldest.inst.ID)
	s.halt(oldest.inst)
}

// ended replays a counted loop or retires the instance
func (s *Sfx) ended(id string) {
	s.mu.Lock()
	e, ok := s.active[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if e.remaining > 0 && !e.stopping {
		e.remaining--
		if err := e.inst.Voice.Seek(0); err != nil {
			s.logger.Warn("rewind failed", "src", e.inst.Src, "error", err)
		}
		e.inst.Voice.Play()
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	s.mu.Unlock()

	s.remove(e.inst, EventEnded)
}

// finish retires an instance after its stop ramp
func (s *Sfx) finish(id string) {
	s.mu.Lock()
	e, ok := s.active[id]
	if ok {
		delete(s.active, id)
	}
	s.mu.Unlock()

	if ok {
		e.inst.Voice.Stop()
		s.remove(e.inst, EventStopped)
	}
}

// Stop fades out the instance with id target, or every instance of the source target
func (s *Sfx) Stop(target string, d time.Duration) *future.Future[struct{}] {
	s.mu.Lock()
	var matched []*pool.Instance
	for id, e := range s.active {
		if id == target || e.inst.Src == target {
			e.stopping = true
			matched = append(matched, e.inst)
		}
	}
	s.mu.Unlock()

	if len(matched) == 0 {
		s.logger.Debug("stop ignored", "target", target, "error", ErrUnknownInstance)
	}
	return s.fadeOut(matched, d)
}

// StopAll cancels pending delayed triggers, then fades out every effect
func (s *Sfx) StopAll(d time.Duration) *future.Future[struct{}] {
	s.mu.Lock()
	s.cancelPendingLocked()
	matched := make([]*pool.Instance, 0, len(s.active))
	for _, e := range s.active {
		e.stopping = true
		matched = append(matched, e.inst)
	}
	s.mu.Unlock()

	return s.fadeOut(matched, d)
}

func (s *Sfx) fadeOut(insts []*pool.Instance, d time.Duration) *future.Future[struct{}] {
	ramps := make([]*future.Future[fade.Outcome], 0, len(insts))
	for _, inst := range insts {
		id := inst.ID
		ramps = append(ramps, s.fadeTo(inst, 0, d, func() { s.finish(id) }))
	}
	return s.settle(future.New[struct{}](), ramps...)
}

func (s *Sfx) cancelPendingLocked() {
	for id, p := range s.pending {
		p.timer.Stop()
		p.result.Cancel()
		delete(s.pending, id)
	}
}

// Active returns the number of sounding effects
func (s *Sfx) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Pending returns the number of delayed triggers that have not fired
func (s *Sfx) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Instances returns the ids of sounding effects, oldest first
func (s *Sfx) Instances() []string {
	s.mu.Lock()
	entries := make([]*sfxEntry, 0, len(s.active))
	for _, e := range s.active {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].inst.StartedAt.Before(entries[j].inst.StartedAt)
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.inst.ID
	}
	return ids
}

// Destroy cancels pending triggers and stops every effect. Safe to call more than once.
func (s *Sfx) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	s.cancelPendingLocked()
	entries := s.active
	s.active = make(map[string]*sfxEntry)
	s.mu.Unlock()

	s.shutdown()
	for _, e := range entries {
		s.halt(e.inst)
	}
}
