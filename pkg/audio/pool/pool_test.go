// ABOUTME: Tests for the resource pool
// ABOUTME: Covers LRU eviction, in-use protection, load failures and teardown
package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/harperreed/stagesound/internal/audiotest"
	"github.com/harperreed/stagesound/pkg/audio/output"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestPool(t *testing.T, size int) (*Pool, *audiotest.Device) {
	t.Helper()
	dev := audiotest.NewDevice()
	p := New(dev, Config{Size: size, LoadTimeout: time.Second})
	t.Cleanup(p.DestroyAll)
	return p, dev
}

// load acquires and waits for src, leaving it idle
func load(t *testing.T, p *Pool, src string) *Resource {
	t.Helper()
	r := p.Acquire(src, output.ModeBuffered)
	require.NoError(t, p.EnsureLoaded(context.Background(), r))
	p.Unpin(r)
	return r
}

// play acquires, loads and spawns an instance of src
func play(t *testing.T, p *Pool, src string) *Instance {
	t.Helper()
	r := p.Acquire(src, output.ModeBuffered)
	require.NoError(t, p.EnsureLoaded(context.Background(), r))
	inst, err := p.Spawn(r, "")
	require.NoError(t, err)
	return inst
}

func TestEvictsLeastRecentlyUsedIdle(t *testing.T) {
	var evicted []string
	dev := audiotest.NewDevice()
	p := New(dev, Config{Size: 2, OnEvict: func(src string) { evicted = append(evicted, src) }})
	defer p.DestroyAll()

	a := load(t, p, "a.mp3")
	load(t, p, "b.mp3")
	load(t, p, "c.mp3")

	assert.Equal(t, []string{"b.mp3", "c.mp3"}, p.Sources())
	assert.Equal(t, []string{"a.mp3"}, evicted)
	assert.True(t, dev.Sounds("a.mp3")[0].Closed())

	_, ok := p.Lookup("a.mp3")
	assert.False(t, ok)
	_, err := p.Spawn(a, "")
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestHitRefreshesRecency(t *testing.T) {
	p, _ := newTestPool(t, 2)

	load(t, p, "a.mp3")
	load(t, p, "b.mp3")
	load(t, p, "a.mp3")
	load(t, p, "c.mp3")

	assert.Equal(t, []string{"a.mp3", "c.mp3"}, p.Sources())

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(3), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestInUseResourcesAreNeverEvicted(t *testing.T) {
	p, _ := newTestPool(t, 2)

	play(t, p, "a.mp3")
	play(t, p, "b.mp3")
	load(t, p, "c.mp3")

	assert.ElementsMatch(t, []string{"a.mp3", "b.mp3", "c.mp3"}, p.Sources())
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Exhausted)
	assert.Equal(t, uint64(0), stats.Evictions)
	assert.Equal(t, 2, stats.Instances)
}

func TestPinnedResourceSurvivesPressure(t *testing.T) {
	p, _ := newTestPool(t, 1)

	pinned := p.Acquire("a.mp3", output.ModeBuffered)
	load(t, p, "b.mp3")

	_, ok := p.Lookup("a.mp3")
	assert.True(t, ok)

	require.NoError(t, p.EnsureLoaded(context.Background(), pinned))
	inst, err := p.Spawn(pinned, "")
	require.NoError(t, err)
	assert.Equal(t, "a.mp3", inst.Src)
}

func TestPoolBoundProperty(t *testing.T) {
	const size = 4
	p, _ := newTestPool(t, size)
	rng := rand.New(rand.NewSource(1))

	var live []*Instance
	for i := 0; i < 200; i++ {
		inUse := map[string]bool{}
		for _, inst := range live {
			inUse[inst.Src] = true
		}
		misses := p.Stats().Misses

		src := fmt.Sprintf("s%d.ogg", rng.Intn(12))
		if rng.Intn(3) == 0 {
			live = append(live, play(t, p, src))
		} else {
			load(t, p, src)
		}

		if p.Stats().Misses > misses {
			assert.LessOrEqual(t, p.Len(), max(size, len(inUse)+1))
		}
		for _, inst := range live {
			_, ok := p.Lookup(inst.Src)
			require.True(t, ok, "in-use resource %s was evicted", inst.Src)
		}

		if len(live) > 0 && rng.Intn(2) == 0 {
			k := rng.Intn(len(live))
			p.Release(live[k].Resource, live[k].ID)
			live = append(live[:k], live[k+1:]...)
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, dev := newTestPool(t, 2)

	inst := play(t, p, "a.mp3")
	assert.True(t, p.Release(inst.Resource, inst.ID))
	assert.False(t, p.Release(inst.Resource, inst.ID))
	assert.True(t, dev.Voices("a.mp3")[0].Closed())
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestLoadFailure(t *testing.T) {
	p, dev := newTestPool(t, 2)
	boom := errors.New("decode exploded")
	dev.Fail("bad.wav", boom)

	r := p.Acquire("bad.wav", output.ModeBuffered)
	err := p.EnsureLoaded(context.Background(), r)
	assert.ErrorIs(t, err, ErrLoad)
	assert.ErrorIs(t, err, output.ErrLoad)
	assert.ErrorIs(t, err, boom)

	// failure does not evict
	_, ok := p.Lookup("bad.wav")
	assert.True(t, ok)

	_, err = p.Spawn(r, "")
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.Equal(t, uint64(1), p.Stats().LoadFailures)
}

func TestFailedResourceReloadsOnNextAcquire(t *testing.T) {
	p, dev := newTestPool(t, 2)
	dev.Fail("flaky.wav", errors.New("network"))

	r := p.Acquire("flaky.wav", output.ModeBuffered)
	require.Error(t, p.EnsureLoaded(context.Background(), r))
	p.Unpin(r)

	dev.Fail("flaky.wav", nil)
	r2 := p.Acquire("flaky.wav", output.ModeBuffered)
	require.NoError(t, p.EnsureLoaded(context.Background(), r2))
	assert.NotSame(t, r, r2)
	assert.Equal(t, 2, dev.Loads("flaky.wav"))
}

func TestLoadTimeout(t *testing.T) {
	dev := audiotest.NewDevice()
	dev.Delay("slow.ogg", time.Hour)
	p := New(dev, Config{LoadTimeout: 30 * time.Millisecond})
	defer p.DestroyAll()

	r := p.Acquire("slow.ogg", output.ModeStream)
	err := p.EnsureLoaded(context.Background(), r)
	assert.ErrorIs(t, err, ErrLoadTimeout)

	_, err = p.Spawn(r, "")
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.Zero(t, p.Stats().Instances)
}

func TestInvalidate(t *testing.T) {
	p, dev := newTestPool(t, 4)

	load(t, p, "idle.ogg")
	p.Invalidate("idle.ogg")
	_, ok := p.Lookup("idle.ogg")
	assert.False(t, ok)

	inst := play(t, p, "busy.ogg")
	p.Invalidate("busy.ogg")
	_, ok = p.Lookup("busy.ogg")
	assert.True(t, ok, "in-use resource must stay until released")

	p.Release(inst.Resource, inst.ID)
	_, ok = p.Lookup("busy.ogg")
	assert.False(t, ok)
	assert.True(t, dev.Sounds("busy.ogg")[0].Closed())

	load(t, p, "busy.ogg")
	assert.Equal(t, 2, dev.Loads("busy.ogg"))
}

func TestDestroyAll(t *testing.T) {
	dev := audiotest.NewDevice()
	dev.Delay("pending.ogg", time.Hour)
	p := New(dev, Config{})

	inst := play(t, p, "a.mp3")
	inst.Voice.Play()
	pending := p.Acquire("pending.ogg", output.ModeStream)

	p.DestroyAll()
	p.DestroyAll()

	assert.True(t, dev.Voices("a.mp3")[0].Closed())
	assert.True(t, dev.Sounds("a.mp3")[0].Closed())
	assert.Zero(t, p.Len())
	assert.ErrorIs(t, p.EnsureLoaded(context.Background(), pending), ErrPoolClosed)
	assert.False(t, p.Release(inst.Resource, inst.ID))

	after := p.Acquire("b.mp3", output.ModeBuffered)
	assert.ErrorIs(t, p.EnsureLoaded(context.Background(), after), ErrPoolClosed)
}
