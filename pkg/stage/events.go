// ABOUTME: Engine event types and fan-out subscription
// ABOUTME: Slow subscribers drop events rather than block playback
package stage

import (
	"log/slog"
	"sync"
	"time"
)

// EventKind names what happened
type EventKind string

const (
	EventStarted     EventKind = "started"
	EventEnded       EventKind = "ended"
	EventStopped     EventKind = "stopped"
	EventEvicted     EventKind = "evicted"
	EventLoadFailed  EventKind = "load_failed"
	EventBgmSwitched EventKind = "bgm_switched"
)

// Layer names the component an event came from
type Layer string

const (
	LayerBgm   Layer = "bgm"
	LayerSfx   Layer = "sfx"
	LayerVoice Layer = "voice"
	LayerPool  Layer = "pool"
)

// Event is an engine notification
type Event struct {
	Kind       EventKind
	Layer      Layer
	Src        string
	InstanceID string
	SpeakerID  string
	Err        error
	Time       time.Time
}

type emitter struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newEmitter(logger *slog.Logger) *emitter {
	return &emitter{logger: logger, subs: make(map[int]chan Event)}
}

func (e *emitter) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if sub, ok := e.subs[id]; ok {
				delete(e.subs, id)
				close(sub)
			}
		})
	}
}

func (e *emitter) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.logger.Debug("event dropped for slow subscriber", "kind", ev.Kind, "src", ev.Src)
		}
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
}
