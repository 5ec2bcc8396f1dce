// ABOUTME: Character voice layer
// ABOUTME: Restarts a speaker's line in place and applies interrupt policies between speakers
package stage

import (
	"sync"
	"time"

	"github.com/harperreed/stagesound/pkg/audio/fade"
	"github.com/harperreed/stagesound/pkg/audio/future"
	"github.com/harperreed/stagesound/pkg/audio/output"
	"github.com/harperreed/stagesound/pkg/audio/pool"
)

// DefaultSpeaker tags lines played without a speaker id
const DefaultSpeaker = "default"

type voiceEntry struct {
	inst       *pool.Instance
	onComplete func()
	onUpdate   func(Progress)
	stopping   bool
}

// Voice plays dialogue lines tagged by speaker
type Voice struct {
	*layer
	interruptFade time.Duration

	mu        sync.Mutex
	active    map[string]*voiceEntry
	destroyed bool
}

func newVoice(l *layer, interruptFade, progressInterval time.Duration) *Voice {
	v := &Voice{
		layer:         l,
		interruptFade: interruptFade,
		active:        make(map[string]*voiceEntry),
	}
	if progressInterval > 0 {
		v.spawn(func() { v.reportProgress(progressInterval) })
	}
	return v
}

func speakerOrDefault(id string) string {
	if id == "" {
		return DefaultSpeaker
	}
	return id
}

// Play speaks a line.
// If the speaker is already sounding the same source, the line restarts from the
// beginning on the same instance and the future resolves with its existing id.
func (v *Voice) Play(opts VoicePlayOptions) *future.Future[string] {
	speaker := speakerOrDefault(opts.SpeakerID)
	volume := 1.0
	if opts.Volume != nil {
		volume = clampVolume(*opts.Volume)
	}
	interrupt := opts.Interrupt
	if interrupt == "" {
		interrupt = InterruptAll
	}

	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return future.RejectedWith[string](ErrDestroyed)
	}

	for _, e := range v.active {
		if e.stopping || e.inst.SpeakerID != speaker || e.inst.Src != opts.Src || !e.inst.Voice.IsPlaying() {
			continue
		}
		v.cancelFade(e.inst)
		if err := e.inst.Voice.Seek(0); err != nil {
			v.logger.Warn("rewind failed", "src", e.inst.Src, "error", err)
		}
		e.inst.Voice.SetVolume(volume)
		e.onComplete = opts.OnComplete
		e.onUpdate = opts.OnUpdate
		v.mu.Unlock()

		v.pool.Touch(e.inst.Resource)
		v.logger.Debug("line restarted", "speaker", speaker, "src", opts.Src, "instance", e.inst.ID)
		return future.ResolvedWith(e.inst.ID)
	}

	var victims []*pool.Instance
	for _, e := range v.active {
		if e.stopping {
			continue
		}
		if interrupt == InterruptAll || (interrupt == InterruptSelf && e.inst.SpeakerID == speaker) {
			e.stopping = true
			victims = append(victims, e.inst)
		}
	}

	result := future.New[string]()
	if !v.spawn(func() { v.speak(speaker, opts, volume, result) }) {
		result.Reject(ErrDestroyed)
	}
	v.mu.Unlock()

	if len(victims) > 0 {
		v.logger.Debug("interrupting lines", "policy", interrupt, "count", len(victims), "speaker", speaker)
	}
	v.fadeOut(victims, v.interruptFade)
	return result
}

func (v *Voice) speak(speaker string, opts VoicePlayOptions, volume float64, result *future.Future[string]) {
	res, err := v.load(opts.Src, output.ModeStream)
	if err != nil {
		if opts.OnComplete != nil && v.ctx.Err() == nil {
			opts.OnComplete()
		}
		result.Reject(err)
		return
	}
	inst, err := v.start(res, speaker)
	if err != nil {
		if opts.OnComplete != nil {
			opts.OnComplete()
		}
		result.Reject(err)
		return
	}

	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		v.remove(inst, EventStopped)
		result.Reject(ErrDestroyed)
		return
	}
	inst.Voice.SetVolume(volume)
	inst.Voice.SetLoop(false)
	inst.Voice.OnEnd(func() { v.ended(inst.ID) })
	v.active[inst.ID] = &voiceEntry{inst: inst, onComplete: opts.OnComplete, onUpdate: opts.OnUpdate}
	inst.Voice.Play()
	v.mu.Unlock()

	v.logger.Debug("line started", "speaker", speaker, "src", opts.Src, "instance", inst.ID)
	v.emit(EventStarted, inst)
	result.Resolve(inst.ID)
}

// ended runs the completion callback, then releases the line
func (v *Voice) ended(id string) {
	v.mu.Lock()
	e, ok := v.active[id]
	if ok {
		delete(v.active, id)
	}
	v.mu.Unlock()
	if !ok {
		return
	}

	if e.onComplete != nil && !e.stopping {
		e.onComplete()
	}
	v.remove(e.inst, EventEnded)
}

func (v *Voice) finish(id string) {
	v.mu.Lock()
	e, ok := v.active[id]
	if ok {
		delete(v.active, id)
	}
	v.mu.Unlock()

	if ok {
		e.inst.Voice.Stop()
		v.remove(e.inst, EventStopped)
	}
}

func (v *Voice) fadeOut(insts []*pool.Instance, d time.Duration) *future.Future[struct{}] {
	ramps := make([]*future.Future[fade.Outcome], 0, len(insts))
	for _, inst := range insts {
		id := inst.ID
		ramps = append(ramps, v.fadeTo(inst, 0, d, func() { v.finish(id) }))
	}
	return v.settle(future.New[struct{}](), ramps...)
}

// Stop fades out every line of speakerID
func (v *Voice) Stop(speakerID string, d time.Duration) *future.Future[struct{}] {
	speaker := speakerOrDefault(speakerID)

	v.mu.Lock()
	var matched []*pool.Instance
	for _, e := range v.active {
		if e.inst.SpeakerID == speaker && !e.stopping {
			e.stopping = true
			matched = append(matched, e.inst)
		}
	}
	v.mu.Unlock()

	if len(matched) == 0 {
		v.logger.Debug("stop ignored", "speaker", speaker, "error", ErrUnknownInstance)
	}
	return v.fadeOut(matched, d)
}

// StopAll fades out every line
func (v *Voice) StopAll(d time.Duration) *future.Future[struct{}] {
	v.mu.Lock()
	matched := make([]*pool.Instance, 0, len(v.active))
	for _, e := range v.active {
		if !e.stopping {
			e.stopping = true
			matched = append(matched, e.inst)
		}
	}
	v.mu.Unlock()

	return v.fadeOut(matched, d)
}

// Active returns the number of sounding lines
func (v *Voice) Active() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.active)
}

// Speaking reports whether speakerID has a line that is not being stopped
func (v *Voice) Speaking(speakerID string) bool {
	speaker := speakerOrDefault(speakerID)

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, e := range v.active {
		if e.inst.SpeakerID == speaker && !e.stopping {
			return true
		}
	}
	return false
}

func (v *Voice) reportProgress(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	type update struct {
		fn func(Progress)
		p  Progress
	}
	for {
		select {
		case <-v.ctx.Done():
			return
		case <-ticker.C:
		}

		v.mu.Lock()
		var updates []update
		for _, e := range v.active {
			if e.onUpdate == nil || e.stopping || !e.inst.Voice.IsPlaying() {
				continue
			}
			updates = append(updates, update{fn: e.onUpdate, p: Progress{
				InstanceID: e.inst.ID,
				SpeakerID:  e.inst.SpeakerID,
				Src:        e.inst.Src,
				Position:   e.inst.Voice.Position(),
				Duration:   e.inst.Resource.Duration(),
			}})
		}
		v.mu.Unlock()

		for _, u := range updates {
			u.fn(u.p)
		}
	}
}

// Destroy stops every line without running completion callbacks. Safe to call more than once.
func (v *Voice) Destroy() {
	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return
	}
	v.destroyed = true
	entries := v.active
	v.active = make(map[string]*voiceEntry)
	v.mu.Unlock()

	v.shutdown()
	for _, e := range entries {
		v.halt(e.inst)
	}
}
