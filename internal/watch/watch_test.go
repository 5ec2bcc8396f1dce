// ABOUTME: Tests for the asset watcher
// ABOUTME: Writes files under a temp root and checks the reported sources
package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startWatcher(t *testing.T, root string) <-chan string {
	t.Helper()
	changes := make(chan string, 16)
	w, err := New(Config{Root: root, Debounce: 30 * time.Millisecond}, func(src string) {
		changes <- src
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return changes
}

func expectChange(t *testing.T, changes <-chan string, want string) {
	t.Helper()
	select {
	case got := <-changes:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("no change reported for %s", want)
	}
}

func TestReportsChangedAudioFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bgm"), 0o755))
	changes := startWatcher(t, root)

	path := filepath.Join(root, "bgm", "theme.ogg")
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0o644))
	}
	expectChange(t, changes, "bgm/theme.ogg")

	select {
	case extra := <-changes:
		t.Fatalf("burst of writes reported twice: %s", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestIgnoresNonAudioFiles(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "hit.wav"), []byte("x"), 0o644))

	expectChange(t, changes, "hit.wav")
}

func TestWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	changes := startWatcher(t, root)

	dir := filepath.Join(root, "voice")
	require.NoError(t, os.Mkdir(dir, 0o755))
	// give the watcher a moment to register the new directory
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a001.ogg"), []byte("x"), 0o644))

	expectChange(t, changes, "voice/a001.ogg")
}

func TestNewFailsForMissingRoot(t *testing.T) {
	_, err := New(Config{Root: filepath.Join(t.TempDir(), "absent")}, func(string) {})
	assert.Error(t, err)
}
