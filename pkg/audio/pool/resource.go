// ABOUTME: Pool resource and instance types
// ABOUTME: A resource is one loadable source; an instance is one sounding voice of it
package pool

import (
	"container/list"
	"context"
	"time"

	"github.com/harperreed/stagesound/pkg/audio/output"
)

// State of a resource load
type State int

const (
	Loading State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Resource is a loaded or loading source.
// Fields other than Src and Mode are guarded by the owning pool.
type Resource struct {
	Src  string
	Mode output.Mode

	sound     output.Sound
	duration  time.Duration
	state     State
	err       error
	ready     chan struct{}
	cancel    context.CancelFunc
	lastUsed  time.Time
	instances map[string]*Instance
	pins      int
	stale     bool
	elem      *list.Element
}

// Instance is one sounding occurrence of a resource
type Instance struct {
	ID        string
	Src       string
	SpeakerID string
	Voice     output.Voice
	StartedAt time.Time
	Resource  *Resource
}

// Ready returns a channel closed once the load finished, successfully or not
func (r *Resource) Ready() <-chan struct{} {
	return r.ready
}

// Duration returns the length of a loaded resource, or zero
func (r *Resource) Duration() time.Duration {
	select {
	case <-r.ready:
	default:
		return 0
	}
	return r.duration
}

func (r *Resource) idle() bool {
	return len(r.instances) == 0 && r.pins == 0
}

func (r *Resource) reloadable() bool {
	if !r.idle() {
		return false
	}
	if r.stale {
		return true
	}
	select {
	case <-r.ready:
		return r.state == Failed
	default:
		return false
	}
}

func closedResource(src string, mode output.Mode) *Resource {
	r := &Resource{
		Src:       src,
		Mode:      mode,
		state:     Failed,
		err:       ErrPoolClosed,
		ready:     make(chan struct{}),
		cancel:    func() {},
		instances: make(map[string]*Instance),
	}
	close(r.ready)
	return r
}
