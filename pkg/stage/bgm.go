// ABOUTME: Background music layer with double-buffered crossfades
// ABOUTME: A failed switch never disturbs the track that is already playing
package stage

import (
	"sync"
	"time"

	"github.com/harperreed/stagesound/pkg/audio/fade"
	"github.com/harperreed/stagesound/pkg/audio/future"
	"github.com/harperreed/stagesound/pkg/audio/output"
	"github.com/harperreed/stagesound/pkg/audio/pool"
)

// BgmStatus is the state of the music layer
type BgmStatus string

const (
	BgmIdle      BgmStatus = "idle"
	BgmPlaying   BgmStatus = "playing"
	BgmPaused    BgmStatus = "paused"
	BgmSwitching BgmStatus = "switching"
)

// BgmState is a snapshot of the music layer
type BgmState struct {
	Src        string
	InstanceID string
	Status     BgmStatus
	Volume     float64
	Target     float64
	Loop       bool
	Position   time.Duration
	Duration   time.Duration
	Preloaded  string
}

// Bgm plays one logical music track through two alternating slots
type Bgm struct {
	*layer

	mu        sync.Mutex
	slots     [2]*pool.Instance
	active    int
	current   string
	target    float64
	paused    bool
	seq       uint64
	switching int
	preloaded string
	destroyed bool
}

func newBgm(l *layer) *Bgm {
	return &Bgm{layer: l, target: 1}
}

// Play starts src, crossfading from the current track, or adjusts the current
// track in place when src is empty or already playing.
// The future resolves with the instance id once all ramps finish; it resolves
// with "" when there is nothing to adjust.
func (b *Bgm) Play(opts BgmPlayOptions) *future.Future[string] {
	result := future.New[string]()

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		result.Reject(ErrDestroyed)
		return result
	}

	volume := b.target
	if opts.Volume != nil {
		volume = clampVolume(*opts.Volume)
	}
	if opts.Src != "" {
		// An explicit source overrides any switch still loading
		b.seq++
	}
	seq := b.seq

	if opts.Src == "" || opts.Src == b.current {
		b.target = volume
		inst := b.slots[b.active]
		if inst == nil {
			b.mu.Unlock()
			result.Resolve("")
			return result
		}
		if opts.Loop != nil {
			inst.Voice.SetLoop(*opts.Loop)
		}
		if !inst.Voice.IsPlaying() {
			b.cancelFade(inst)
			inst.Voice.SetVolume(0)
			inst.Voice.Play()
		}
		b.paused = false
		b.mu.Unlock()

		b.pool.Touch(inst.Resource)
		ramp := b.fadeTo(inst, volume, opts.Fade, nil)
		b.resolveAfter(result, inst.ID, ramp)
		return result
	}

	loop := true
	if opts.Loop != nil {
		loop = *opts.Loop
	}
	b.switching++
	b.mu.Unlock()

	if !b.spawn(func() { b.switchTo(seq, opts.Src, loop, opts.Volume, opts.Fade, result) }) {
		b.mu.Lock()
		b.switching--
		b.mu.Unlock()
		result.Reject(ErrDestroyed)
	}
	return result
}

// switchTo loads src into the idle slot and crossfades to it.
// The music volume changes only once the new track has started; a nil
// volume keeps whatever the music volume is at that point.
func (b *Bgm) switchTo(seq uint64, src string, loop bool, requested *float64, d time.Duration, result *future.Future[string]) {
	defer func() {
		b.mu.Lock()
		b.switching--
		b.mu.Unlock()
	}()

	res, err := b.load(src, output.ModeStream)
	if err != nil {
		// Outgoing track keeps playing untouched
		result.Reject(err)
		return
	}

	if err := b.checkSeq(seq); err != nil {
		b.pool.Unpin(res)
		result.Reject(err)
		return
	}

	inst, err := b.start(res, "")
	if err != nil {
		result.Reject(err)
		return
	}

	b.mu.Lock()
	if err := b.checkSeqLocked(seq); err != nil {
		b.mu.Unlock()
		b.remove(inst, EventStopped)
		result.Reject(err)
		return
	}

	incoming := 1 - b.active
	if stale := b.slots[incoming]; stale != nil {
		// An older track is still fading out of the slot we need
		b.slots[incoming] = nil
		b.halt(stale)
	}
	outgoing := b.slots[b.active]

	volume := b.target
	if requested != nil {
		volume = clampVolume(*requested)
	}
	start := 0.0
	if d <= 0 {
		start = volume
	}
	inst.Voice.SetLoop(loop)
	inst.Voice.SetVolume(start)
	inst.Voice.OnEnd(func() { b.ended(inst) })
	inst.Voice.Play()

	b.slots[incoming] = inst
	b.active = incoming
	b.current = src
	b.target = volume
	b.paused = false
	b.mu.Unlock()

	b.logger.Info("music switched", "src", src, "fade", d, "instance", inst.ID)
	b.emit(EventStarted, inst)
	b.events.emit(Event{Kind: EventBgmSwitched, Layer: LayerBgm, Src: src, InstanceID: inst.ID})

	var out *future.Future[fade.Outcome]
	if outgoing != nil {
		out = b.fadeTo(outgoing, 0, d, func() { b.retire(outgoing) })
	}
	in := b.fadeTo(inst, volume, d, nil)

	if err := join(b.ctx, out, in); err != nil {
		result.Reject(ErrDestroyed)
		return
	}
	result.Resolve(inst.ID)
}

func (b *Bgm) checkSeq(seq uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.checkSeqLocked(seq)
}

func (b *Bgm) checkSeqLocked(seq uint64) error {
	if b.destroyed {
		return ErrDestroyed
	}
	if seq != b.seq {
		return ErrSuperseded
	}
	return nil
}

// retire stops and releases a track after it faded out
func (b *Bgm) retire(inst *pool.Instance) {
	b.mu.Lock()
	for i, s := range b.slots {
		if s == inst {
			b.slots[i] = nil
			if i == b.active {
				b.current = ""
				b.paused = false
			}
		}
	}
	b.mu.Unlock()

	inst.Voice.Stop()
	b.remove(inst, EventStopped)
}

// ended handles a non-looping track reaching its end
func (b *Bgm) ended(inst *pool.Instance) {
	b.mu.Lock()
	found := false
	for i, s := range b.slots {
		if s == inst {
			found = true
			b.slots[i] = nil
			if i == b.active {
				b.current = ""
			}
		}
	}
	b.mu.Unlock()

	if found {
		b.remove(inst, EventEnded)
	}
}

// Pause fades the current track out and pauses it without releasing it.
// A switch still loading is abandoned.
func (b *Bgm) Pause(d time.Duration) *future.Future[struct{}] {
	b.mu.Lock()
	b.seq++
	inst := b.slots[b.active]
	if inst != nil {
		b.paused = true
	}
	b.mu.Unlock()

	if inst == nil {
		return future.ResolvedWith(struct{}{})
	}
	ramp := b.fadeTo(inst, 0, d, func() { inst.Voice.Pause() })
	return b.settle(future.New[struct{}](), ramp)
}

// Stop fades both slots out, then stops and releases them.
// A switch still loading is abandoned.
func (b *Bgm) Stop(d time.Duration) *future.Future[struct{}] {
	b.mu.Lock()
	b.seq++
	inst := b.slots[b.active]
	outgoing := b.slots[1-b.active]
	b.mu.Unlock()

	var ramps []*future.Future[fade.Outcome]
	if outgoing != nil {
		ramps = append(ramps, b.fadeTo(outgoing, 0, d, func() { b.retire(outgoing) }))
	}
	if inst != nil {
		ramps = append(ramps, b.fadeTo(inst, 0, d, func() { b.retire(inst) }))
	}
	if len(ramps) == 0 {
		return future.ResolvedWith(struct{}{})
	}
	return b.settle(future.New[struct{}](), ramps...)
}

// Resume continues the current track, ramping back to the music volume
func (b *Bgm) Resume(d time.Duration) *future.Future[string] {
	return b.Play(BgmPlayOptions{Fade: d})
}

// Fade sets the music volume and ramps the current track to it
func (b *Bgm) Fade(volume float64, d time.Duration) *future.Future[struct{}] {
	volume = clampVolume(volume)

	b.mu.Lock()
	b.target = volume
	inst := b.slots[b.active]
	b.mu.Unlock()

	if inst == nil {
		return future.ResolvedWith(struct{}{})
	}
	return b.settle(future.New[struct{}](), b.fadeTo(inst, volume, d, nil))
}

// Preload starts loading src so a later switch does not wait for it.
// The future resolves when the load finishes.
func (b *Bgm) Preload(src string) *future.Future[struct{}] {
	result := future.New[struct{}]()

	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		result.Reject(ErrDestroyed)
		return result
	}
	if src == "" || src == b.current {
		b.mu.Unlock()
		result.Resolve(struct{}{})
		return result
	}
	b.preloaded = src
	b.mu.Unlock()

	b.logger.Info("preloading music", "src", src)
	if !b.spawn(func() {
		res, err := b.load(src, output.ModeStream)
		if err != nil {
			result.Reject(err)
			return
		}
		b.pool.Unpin(res)
		result.Resolve(struct{}{})
	}) {
		result.Reject(ErrDestroyed)
	}
	return result
}

// Seek moves the current track to pos, paused or not. It is a no-op when idle.
func (b *Bgm) Seek(pos time.Duration) error {
	b.mu.Lock()
	inst := b.slots[b.active]
	b.mu.Unlock()

	if inst == nil {
		b.logger.Debug("seek ignored", "error", ErrUnknownInstance)
		return nil
	}
	return inst.Voice.Seek(pos)
}

// Volume returns the current track volume, or the music volume when idle
func (b *Bgm) Volume() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst := b.slots[b.active]; inst != nil {
		return inst.Voice.Volume()
	}
	return b.target
}

// SetVolume sets the music volume immediately, cancelling any ramp
func (b *Bgm) SetVolume(v float64) {
	v = clampVolume(v)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = v
	if inst := b.slots[b.active]; inst != nil {
		b.cancelFade(inst)
		inst.Voice.SetVolume(v)
	}
}

// Loop reports whether the current track loops
func (b *Bgm) Loop() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst := b.slots[b.active]; inst != nil {
		return inst.Voice.Loop()
	}
	return false
}

// SetLoop changes looping of the current track
func (b *Bgm) SetLoop(loop bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst := b.slots[b.active]; inst != nil {
		inst.Voice.SetLoop(loop)
	}
}

// Current returns the source of the current track, or ""
func (b *Bgm) Current() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// State returns a snapshot of the music layer
func (b *Bgm) State() BgmState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BgmState{
		Src:       b.current,
		Status:    BgmIdle,
		Volume:    b.target,
		Target:    b.target,
		Preloaded: b.preloaded,
	}
	if inst := b.slots[b.active]; inst != nil {
		st.InstanceID = inst.ID
		st.Volume = inst.Voice.Volume()
		st.Loop = inst.Voice.Loop()
		st.Position = inst.Voice.Position()
		st.Duration = inst.Resource.Duration()
		st.Status = BgmPlaying
		if b.paused {
			st.Status = BgmPaused
		}
	}
	if b.switching > 0 || b.slots[1-b.active] != nil {
		st.Status = BgmSwitching
	}
	return st
}

// Destroy stops both slots and cancels pending switches. Safe to call more than once.
func (b *Bgm) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	b.seq++
	slots := b.slots
	b.slots = [2]*pool.Instance{}
	b.current = ""
	b.mu.Unlock()

	b.shutdown()
	for _, inst := range slots {
		if inst != nil {
			b.halt(inst)
		}
	}
}

// resolveAfter resolves result with id once ramp completes
func (b *Bgm) resolveAfter(result *future.Future[string], id string, ramp *future.Future[fade.Outcome]) {
	if ramp.State() != future.Pending {
		result.Resolve(id)
		return
	}
	if !b.spawn(func() {
		if _, err := ramp.Wait(b.ctx); err != nil {
			result.Reject(ErrDestroyed)
			return
		}
		result.Resolve(id)
	}) {
		result.Reject(ErrDestroyed)
	}
}
