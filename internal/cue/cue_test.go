// ABOUTME: Tests for cue script parsing and execution
// ABOUTME: Uses a recording executor and a real engine on the fake device
package cue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/harperreed/stagesound/internal/audiotest"
	"github.com/harperreed/stagesound/internal/control"
	"github.com/harperreed/stagesound/pkg/protocol"
	"github.com/harperreed/stagesound/pkg/stage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const opening = `
name: opening
steps:
  - layer: bgm
    op: play
    src: bgm/theme.ogg
    fade: 1500ms
    volume: 0.8
  - wait: 20ms
  - name: rain
    layer: sfx
    op: play
    src: sfx/rain.wav
    loop_count: -1
    await: true
  - at: 50ms
    layer: voice
    op: play
    src: voice/a001.ogg
    speaker: alice
    interrupt: self
  - layer: sfx
    op: stop
    target: "@rain"
    fade: 200ms
`

func TestParse(t *testing.T) {
	script, err := Parse([]byte(opening))
	require.NoError(t, err)
	assert.Equal(t, "opening", script.Name)
	require.Len(t, script.Steps, 5)

	first := script.Steps[0].Command()
	assert.Equal(t, protocol.LayerBgm, first.Layer)
	assert.Equal(t, 1500, first.FadeMs)
	require.NotNil(t, first.Volume)
	assert.Equal(t, 0.8, *first.Volume)

	assert.True(t, script.Steps[1].IsWait())
	assert.Equal(t, 20*time.Millisecond, script.Steps[1].Wait)
	assert.Equal(t, -1, script.Steps[2].LoopCount)
	assert.Equal(t, 50*time.Millisecond, script.Steps[3].At)
	assert.Equal(t, "alice", script.Steps[3].Command().SpeakerID)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"not yaml", "steps: ["},
		{"no steps", "name: empty"},
		{"empty step", "steps:\n  - {}"},
		{"unknown op", "steps:\n  - {layer: sfx, op: pause, src: a.wav}"},
		{"missing src", "steps:\n  - {layer: voice, op: play}"},
		{"wait with command", "steps:\n  - {layer: bgm, op: stop, wait: 1s}"},
		{"negative at", "steps:\n  - {layer: bgm, op: stop, at: -1s}"},
		{"unknown reference", "steps:\n  - {layer: sfx, op: stop, target: '@nope'}"},
		{"duplicate name", "steps:\n  - {name: a, layer: sfx, op: play, src: a.wav}\n  - {name: a, layer: sfx, op: play, src: b.wav}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, ErrInvalidScript)
		})
	}
}

type call struct {
	cmd protocol.Command
	at  time.Duration
}

type recorder struct {
	mu    sync.Mutex
	start time.Time
	calls []call
	fail  string
}

func (r *recorder) Execute(ctx context.Context, cmd protocol.Command) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{cmd: cmd, at: time.Since(r.start)})
	if cmd.Src != "" && cmd.Src == r.fail {
		return "", errors.New("boom")
	}
	return "id-" + cmd.Src, nil
}

func TestRunnerOrderAndTiming(t *testing.T) {
	script, err := Parse([]byte(opening))
	require.NoError(t, err)

	rec := &recorder{start: time.Now()}
	require.NoError(t, NewRunner(rec, nil).Run(context.Background(), script))

	require.Len(t, rec.calls, 4)
	assert.Equal(t, "bgm/theme.ogg", rec.calls[0].cmd.Src)
	assert.Equal(t, "sfx/rain.wav", rec.calls[1].cmd.Src)
	assert.GreaterOrEqual(t, rec.calls[1].at, 20*time.Millisecond)
	assert.Equal(t, "voice/a001.ogg", rec.calls[2].cmd.Src)
	assert.GreaterOrEqual(t, rec.calls[2].at, 50*time.Millisecond)

	stop := rec.calls[3].cmd
	assert.Equal(t, protocol.OpStop, stop.Op)
	assert.Equal(t, "id-sfx/rain.wav", stop.Target)
}

func TestRunnerReportsFailure(t *testing.T) {
	script, err := Parse([]byte(opening))
	require.NoError(t, err)

	rec := &recorder{start: time.Now(), fail: "sfx/rain.wav"}
	err = NewRunner(rec, nil).Run(context.Background(), script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 3")
	// an awaited failure stops the script
	assert.Len(t, rec.calls, 2)
}

func TestRunnerCancelled(t *testing.T) {
	script, err := Parse([]byte("steps:\n  - wait: 1m\n  - {layer: bgm, op: stop}"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	rec := &recorder{start: time.Now()}
	err = NewRunner(rec, nil).Run(ctx, script)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, rec.calls)
}

func TestRunnerAgainstEngine(t *testing.T) {
	dev := audiotest.NewDevice()
	e, err := stage.New(dev, stage.EngineConfig{FadeTick: 2 * time.Millisecond, InterruptFade: 5 * time.Millisecond})
	require.NoError(t, err)
	defer e.Destroy()

	script, err := Parse([]byte(`
steps:
  - {layer: bgm, op: play, src: theme.ogg, fade: 10ms, await: true}
  - {name: rain, layer: sfx, op: play, src: rain.wav, loop_count: -1, await: true}
  - {layer: voice, op: play, src: a001.ogg, speaker: alice, await: true}
  - {layer: sfx, op: stop, target: "@rain", await: true}
`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, NewRunner(control.NewDispatcher(e), nil).Run(ctx, script))

	assert.Equal(t, "theme.ogg", e.Bgm().State().Src)
	assert.Len(t, dev.Playing("theme.ogg"), 1)
	assert.Len(t, dev.Playing("a001.ogg"), 1)
	assert.Empty(t, dev.Playing("rain.wav"))
	assert.True(t, e.Voice().Speaking("alice"))
}
