// ABOUTME: Tests for the control server and command dispatcher
// ABOUTME: Drives a fake-device engine through real WebSocket clients
package control

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/harperreed/stagesound/internal/audiotest"
	"github.com/harperreed/stagesound/internal/metrics"
	"github.com/harperreed/stagesound/pkg/protocol"
	"github.com/harperreed/stagesound/pkg/stage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newEngine(t *testing.T) (*stage.Engine, *audiotest.Device) {
	t.Helper()
	dev := audiotest.NewDevice()
	e, err := stage.New(dev, stage.EngineConfig{FadeTick: 2 * time.Millisecond, InterruptFade: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(e.Destroy)
	return e, dev
}

func startServer(t *testing.T, e *stage.Engine, config Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(e, config)
	t.Cleanup(s.Close)
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return s, hs
}

func dial(t *testing.T, hs *httptest.Server, id string) *protocol.Client {
	t.Helper()
	c := protocol.NewClient(protocol.Config{
		ServerAddr: strings.TrimPrefix(hs.URL, "http://"),
		ClientID:   id,
		Name:       "test-" + id,
		Timeout:    2 * time.Second,
	})
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func send(t *testing.T, c *protocol.Client, cmd protocol.Command) (protocol.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.Send(ctx, cmd)
}

func expectEvent(t *testing.T, c *protocol.Client, kind string) protocol.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events:
			require.True(t, ok, "event stream closed")
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestServerHandshake(t *testing.T) {
	e, _ := newEngine(t)
	s, hs := startServer(t, e, Config{Name: "stage-left"})
	c := dial(t, hs, "a")

	hello := c.Server()
	assert.Equal(t, s.ID(), hello.ServerID)
	assert.Equal(t, "stage-left", hello.Name)
	assert.Equal(t, protocol.Version, hello.Version)
	assert.Contains(t, hello.Layers, protocol.LayerVoice)
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, time.Millisecond)
}

func TestServerRejectsDuplicateClientID(t *testing.T) {
	e, _ := newEngine(t)
	s, hs := startServer(t, e, Config{})
	dial(t, hs, "same")
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, time.Millisecond)

	dup := protocol.NewClient(protocol.Config{
		ServerAddr: strings.TrimPrefix(hs.URL, "http://"),
		ClientID:   "same",
		Timeout:    time.Second,
	})
	assert.Error(t, dup.Connect(context.Background()))
	assert.Equal(t, 1, s.Clients())
}

func TestServerExecutesCommandsAndBroadcastsEvents(t *testing.T) {
	e, dev := newEngine(t)
	_, hs := startServer(t, e, Config{})
	player := dial(t, hs, "player")
	observer := dial(t, hs, "observer")

	res, err := send(t, player, protocol.Command{Layer: protocol.LayerSfx, Op: protocol.OpPlay, Src: "door.wav"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.InstanceID)
	require.Len(t, dev.Playing("door.wav"), 1)

	ev := expectEvent(t, observer, "started")
	assert.Equal(t, "sfx", ev.Layer)
	assert.Equal(t, "door.wav", ev.Src)
	assert.Equal(t, res.InstanceID, ev.InstanceID)

	_, err = send(t, player, protocol.Command{Layer: protocol.LayerSfx, Op: protocol.OpStop, Target: res.InstanceID})
	require.NoError(t, err)
	assert.Empty(t, dev.Playing("door.wav"))
	expectEvent(t, observer, "stopped")
}

func TestServerReportsFailures(t *testing.T) {
	e, dev := newEngine(t)
	_, hs := startServer(t, e, Config{})
	c := dial(t, hs, "a")
	dev.Fail("missing.ogg", errors.New("no such file"))

	res, err := send(t, c, protocol.Command{Layer: protocol.LayerBgm, Op: protocol.OpPlay, Src: "missing.ogg"})
	assert.ErrorIs(t, err, protocol.ErrCommandFailed)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "missing.ogg")

	ev := expectEvent(t, c, "load_failed")
	assert.NotEmpty(t, ev.Error)
}

func TestServerVoiceEndReachesClients(t *testing.T) {
	e, dev := newEngine(t)
	_, hs := startServer(t, e, Config{})
	c := dial(t, hs, "a")

	res, err := send(t, c, protocol.Command{Layer: protocol.LayerVoice, Op: protocol.OpPlay, Src: "a001.ogg", SpeakerID: "alice"})
	require.NoError(t, err)
	require.True(t, res.OK)

	voices := dev.Playing("a001.ogg")
	require.Len(t, voices, 1)
	voices[0].End()

	ev := expectEvent(t, c, "ended")
	assert.Equal(t, "voice", ev.Layer)
	assert.Equal(t, "alice", ev.SpeakerID)
}

func TestServerServesMetrics(t *testing.T) {
	e, _ := newEngine(t)
	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry, func() stage.Stats { return e.Stats() })
	require.NoError(t, err)
	_, hs := startServer(t, e, Config{Registry: registry})
	c := dial(t, hs, "a")

	_, err = send(t, c, protocol.Command{Layer: protocol.LayerSfx, Op: protocol.OpPlay, Src: "hit.wav"})
	require.NoError(t, err)
	m.Observe(stage.Event{Kind: stage.EventStarted, Layer: stage.LayerSfx, Src: "hit.wav"})

	resp, err := http.Get(hs.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stagesound_pool_resources")
	assert.Contains(t, string(body), `stagesound_instances_total{kind="started",layer="sfx"} 1`)
}

func TestServerCloseDisconnectsClients(t *testing.T) {
	e, _ := newEngine(t)
	s, hs := startServer(t, e, Config{})
	c := dial(t, hs, "a")
	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, time.Millisecond)

	s.Close()
	require.Eventually(t, func() bool { return !c.IsConnected() }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.Clients())
}

func TestDispatcher(t *testing.T) {
	e, dev := newEngine(t)
	d := NewDispatcher(e)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	vol := 0.5

	id, err := d.Execute(ctx, protocol.Command{Layer: protocol.LayerBgm, Op: protocol.OpPlay, Src: "theme.ogg", Volume: &vol})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, "theme.ogg", e.Bgm().State().Src)

	_, err = d.Execute(ctx, protocol.Command{Layer: protocol.LayerBgm, Op: protocol.OpPause})
	require.NoError(t, err)
	assert.Empty(t, dev.Playing("theme.ogg"))

	resumed, err := d.Execute(ctx, protocol.Command{Layer: protocol.LayerBgm, Op: protocol.OpResume})
	require.NoError(t, err)
	assert.Equal(t, id, resumed)

	_, err = d.Execute(ctx, protocol.Command{Layer: protocol.LayerVoice, Op: protocol.OpPlay, Src: "a001.ogg"})
	require.NoError(t, err)
	_, err = d.Execute(ctx, protocol.Command{Layer: protocol.LayerSfx, Op: protocol.OpPlay, Src: "hit.wav", LoopCount: -1})
	require.NoError(t, err)

	_, err = d.Execute(ctx, protocol.Command{Layer: protocol.LayerEngine, Op: protocol.OpStopAll})
	require.NoError(t, err)
	assert.Empty(t, dev.Playing("theme.ogg"))
	assert.Empty(t, dev.Playing("a001.ogg"))
	assert.Empty(t, dev.Playing("hit.wav"))

	_, err = d.Execute(ctx, protocol.Command{Layer: protocol.LayerSfx, Op: protocol.OpFade})
	assert.ErrorIs(t, err, protocol.ErrInvalidCommand)

	_, err = d.Execute(ctx, protocol.Command{Layer: protocol.LayerEngine, Op: protocol.OpDestroy})
	require.NoError(t, err)
	_, err = d.Execute(ctx, protocol.Command{Layer: protocol.LayerSfx, Op: protocol.OpPlay, Src: "hit.wav"})
	assert.ErrorIs(t, err, stage.ErrDestroyed)
}
