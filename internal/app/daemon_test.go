// ABOUTME: Tests for daemon wiring
// ABOUTME: Runs a full daemon on the fake device and drives it over the protocol
package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/harperreed/stagesound/internal/audiotest"
	"github.com/harperreed/stagesound/internal/config"
	"github.com/harperreed/stagesound/pkg/protocol"
	"github.com/harperreed/stagesound/pkg/stage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// the fetch cache janitor lives until the cache is collected
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)
	cfg.Assets.Root = t.TempDir()
	cfg.Assets.Debounce = 20 * time.Millisecond
	cfg.Server.Name = "test-booth"
	cfg.Server.Discovery = false
	cfg.Engine.FadeTick = 2 * time.Millisecond
	cfg.Engine.InterruptFade = 5 * time.Millisecond
	return cfg
}

type running struct {
	daemon *Daemon
	device *audiotest.Device
	client *protocol.Client
	addr   string
}

func start(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	dev := audiotest.NewDevice()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	d, err := New(cfg, Options{Device: dev, Listener: ln})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	c := protocol.NewClient(protocol.Config{ServerAddr: ln.Addr().String(), Path: cfg.Server.Path, Timeout: 2 * time.Second})
	require.Eventually(t, func() bool { return c.Connect(context.Background()) == nil }, 2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		c.Close()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
		http.DefaultClient.CloseIdleConnections()
	})
	return &running{daemon: d, device: dev, client: c, addr: ln.Addr().String()}
}

func TestDaemonServesCommands(t *testing.T) {
	r := start(t, testConfig(t))
	assert.Equal(t, "test-booth", r.client.Server().Name)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := r.client.Send(ctx, protocol.Command{Layer: protocol.LayerBgm, Op: protocol.OpPlay, Src: "theme.ogg"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.InstanceID)
	assert.Len(t, r.device.Playing("theme.ogg"), 1)
	assert.Equal(t, "theme.ogg", r.daemon.status().Stats.Bgm.Src)
}

func TestDaemonExposesMetrics(t *testing.T) {
	r := start(t, testConfig(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.client.Send(ctx, protocol.Command{Layer: protocol.LayerSfx, Op: protocol.OpPlay, Src: "hit.wav"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + r.addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK &&
			strings.Contains(string(body), `stagesound_instances_total{kind="started",layer="sfx"} 1`) &&
			strings.Contains(string(body), "go_goroutines")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDaemonMetricsDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false
	r := start(t, cfg)

	resp, err := http.Get("http://" + r.addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDaemonInvalidatesChangedAssets(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := r.client.Send(ctx, protocol.Command{Layer: protocol.LayerBgm, Op: protocol.OpPreload, Src: "theme.ogg"})
	require.NoError(t, err)
	require.Equal(t, 1, r.device.Loads("theme.ogg"))

	require.NoError(t, os.WriteFile(filepath.Join(cfg.Assets.Root, "theme.ogg"), []byte("new"), 0o644))
	require.Eventually(t, func() bool {
		return r.daemon.Engine().Stats().Pool.Resources == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err = r.client.Send(ctx, protocol.Command{Layer: protocol.LayerBgm, Op: protocol.OpPlay, Src: "theme.ogg"})
	require.NoError(t, err)
	assert.Equal(t, 2, r.device.Loads("theme.ogg"))
}

func TestControlsDriveEngine(t *testing.T) {
	r := start(t, testConfig(t))
	e := r.daemon.Engine()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := e.Bgm().Play(stage.BgmPlayOptions{Src: "theme.ogg"}).Wait(ctx)
	require.NoError(t, err)

	r.daemon.SetMusicVolume(0.25)
	assert.InDelta(t, 0.25, e.Bgm().Volume(), 1e-9)

	r.daemon.StopAll()
	require.Eventually(t, func() bool { return len(r.device.Playing("theme.ogg")) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRunFailsOnBusyAddress(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig(t)
	cfg.Server.Addr = busy.Addr().String()
	d, err := New(cfg, Options{Device: audiotest.NewDevice()})
	require.NoError(t, err)
	assert.Error(t, d.Run(context.Background()))
}
