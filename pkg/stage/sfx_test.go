// ABOUTME: Tests for the sound effect layer
// ABOUTME: Covers the concurrency cap, repeat counts, delayed triggers and stops
package stage

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/stagesound/pkg/audio/future"
	"github.com/harperreed/stagesound/pkg/audio/pool"
)

func TestSfxCapStopsOldest(t *testing.T) {
	e, dev := newTestEngine(t, EngineConfig{MaxConcurrentSfx: 3})
	sfx := e.Sfx()

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, await(t, sfx.Play(SfxPlayOptions{Src: fmt.Sprintf("hit%d.wav", i)})))
	}

	assert.Equal(t, 3, sfx.Active())
	assert.Equal(t, ids[1:], sfx.Instances())
	assert.True(t, dev.Voices("hit0.wav")[0].Closed())
	for i := 1; i < 4; i++ {
		assert.True(t, dev.Voices(fmt.Sprintf("hit%d.wav", i))[0].IsPlaying())
	}
}

func TestSfxCapProperty(t *testing.T) {
	const limit = 5
	e, _ := newTestEngine(t, EngineConfig{MaxConcurrentSfx: limit})
	sfx := e.Sfx()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 60; i++ {
		await(t, sfx.Play(SfxPlayOptions{Src: fmt.Sprintf("fx%d.wav", rng.Intn(8))}))
		require.LessOrEqual(t, sfx.Active(), limit)
		require.LessOrEqual(t, e.Pool().Stats().Instances, limit)
	}
	assert.Equal(t, limit, sfx.Active())
}

func TestSfxLoopCountReplaysSameInstance(t *testing.T) {
	e, dev := newTestEngine(t, EngineConfig{})
	sfx := e.Sfx()
	events, unsubscribe := e.Subscribe(16)
	defer unsubscribe()

	id := await(t, sfx.Play(SfxPlayOptions{Src: "knock.wav", LoopCount: 3}))
	v := dev.Voices("knock.wav")[0]
	assert.False(t, v.Loop())

	require.True(t, v.End())
	require.True(t, v.End())
	assert.Equal(t, 1, sfx.Active())
	assert.Equal(t, 3, v.Plays())

	require.True(t, v.End())
	ev := waitEvent(t, events, EventEnded)
	assert.Equal(t, id, ev.InstanceID)
	assert.Zero(t, sfx.Active())
	assert.True(t, v.Closed())
	assert.Len(t, dev.Voices("knock.wav"), 1)
}

func TestSfxInfiniteLoopUntilStopped(t *testing.T) {
	e, dev := newTestEngine(t, EngineConfig{})
	sfx := e.Sfx()

	await(t, sfx.Play(SfxPlayOptions{Src: "rain.wav", LoopCount: -1, Volume: Float(0.3)}))
	v := dev.Voices("rain.wav")[0]
	assert.True(t, v.Loop())
	assert.InDelta(t, 0.3, v.Volume(), 1e-9)

	v.End()
	assert.Equal(t, 1, sfx.Active())

	await(t, sfx.Stop("rain.wav", 10*time.Millisecond))
	require.Eventually(t, v.Closed, time.Second, 2*time.Millisecond)
	assert.Zero(t, sfx.Active())
}

func TestSfxDelayedTrigger(t *testing.T) {
	e, dev := newTestEngine(t, EngineConfig{})
	sfx := e.Sfx()

	f := sfx.Play(SfxPlayOptions{Src: "bell.wav", Delay: 30 * time.Millisecond})
	assert.Equal(t, future.Pending, f.State())
	assert.Equal(t, 1, sfx.Pending())
	assert.Zero(t, dev.Loads("bell.wav"))

	id := await(t, f)
	assert.NotEmpty(t, id)
	assert.Zero(t, sfx.Pending())
	assert.Equal(t, 1, sfx.Active())
}

func TestSfxDelayFuncIsEvaluatedAtPlay(t *testing.T) {
	e, _ := newTestEngine(t, EngineConfig{})
	sfx := e.Sfx()

	calls := 0
	f := sfx.Play(SfxPlayOptions{Src: "bell.wav", Delay: time.Hour, DelayFunc: func() time.Duration {
		calls++
		return 5 * time.Millisecond
	}})
	await(t, f)
	assert.Equal(t, 1, calls)
}

func TestSfxStopAllCancelsPendingTriggers(t *testing.T) {
	e, dev := newTestEngine(t, EngineConfig{})
	sfx := e.Sfx()

	await(t, sfx.Play(SfxPlayOptions{Src: "now.wav"}))
	later := sfx.Play(SfxPlayOptions{Src: "later.wav", Delay: 50 * time.Millisecond})

	await(t, sfx.StopAll(0))
	assert.Equal(t, future.Cancelled, later.State())
	_, err := later.Result()
	assert.ErrorIs(t, err, future.ErrCancelled)

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, dev.Loads("later.wav"), "cancelled trigger must never start")
	assert.Zero(t, sfx.Active())
	assert.True(t, dev.Voices("now.wav")[0].Closed())
}

func TestSfxStopByIDOrSource(t *testing.T) {
	e, dev := newTestEngine(t, EngineConfig{})
	sfx := e.Sfx()

	await(t, sfx.Play(SfxPlayOptions{Src: "a.wav"}))
	await(t, sfx.Play(SfxPlayOptions{Src: "a.wav"}))
	idB := await(t, sfx.Play(SfxPlayOptions{Src: "b.wav"}))
	assert.Equal(t, 1, dev.Loads("a.wav"), "second play reuses the loaded resource")

	await(t, sfx.Stop("a.wav", 0))
	assert.Equal(t, []string{idB}, sfx.Instances())

	await(t, sfx.Stop("no-such-id", 0))
	assert.Equal(t, 1, sfx.Active())

	await(t, sfx.Stop(idB, 0))
	assert.Zero(t, sfx.Active())
	assert.Zero(t, e.Pool().Stats().Instances)
}

func TestSfxLoadFailureRejects(t *testing.T) {
	e, dev := newTestEngine(t, EngineConfig{})
	dev.Fail("missing.wav", errors.New("not found"))

	err := awaitErr(t, e.Sfx().Play(SfxPlayOptions{Src: "missing.wav"}))
	assert.ErrorIs(t, err, pool.ErrLoad)
	assert.Zero(t, e.Sfx().Active())
}
