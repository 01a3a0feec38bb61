package credwatch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func waitForTick(t *testing.T, ticks <-chan struct{}, timeout time.Duration, what string) {
	t.Helper()
	select {
	case <-ticks:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for tick: %s", what)
	}
}

func assertNoTick(t *testing.T, ticks <-chan struct{}, wait time.Duration) {
	t.Helper()
	select {
	case <-ticks:
		t.Fatalf("expected no tick, but got one")
	case <-time.After(wait):
	}
}

func startWatcher(t *testing.T, backend string, paths []string) *Watcher {
	t.Helper()
	w := New(zaptest.NewLogger(t), paths, 50*time.Millisecond, backend)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		_ = w.Stop(context.Background())
	})
	return w
}

func backends(t *testing.T) []string {
	if runtime.GOOS == "windows" {
		return []string{BackendPoll}
	}
	return []string{BackendPoll, BackendNotify}
}

func TestWatcher_DetectsCreate(t *testing.T) {
	for _, backend := range backends(t) {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			anchors := filepath.Join(dir, "ca.pem")
			leaf := filepath.Join(dir, "leaf.der")
			key := filepath.Join(dir, "key.p8")

			w := startWatcher(t, backend, []string{anchors, leaf, key})

			require.NoError(t, os.WriteFile(anchors, []byte("a"), 0o600))
			waitForTick(t, w.Ticks(), 2*time.Second, "creating anchors file")

			require.NoError(t, os.WriteFile(leaf, []byte("b"), 0o600))
			waitForTick(t, w.Ticks(), 2*time.Second, "creating leaf file")

			require.NoError(t, os.WriteFile(key, []byte("c"), 0o600))
			waitForTick(t, w.Ticks(), 2*time.Second, "creating key file")
		})
	}
}

func TestWatcher_DetectsModification(t *testing.T) {
	for _, backend := range backends(t) {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			target := filepath.Join(dir, "leaf.der")
			require.NoError(t, os.WriteFile(target, []byte("first"), 0o600))

			w := startWatcher(t, backend, []string{target})

			require.NoError(t, os.WriteFile(target, []byte("second, and longer"), 0o600))
			waitForTick(t, w.Ticks(), 2*time.Second, "modifying file contents")
		})
	}
}

func TestWatcher_DetectsDeleteAndRecreate(t *testing.T) {
	for _, backend := range backends(t) {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			target := filepath.Join(dir, "key.p8")
			require.NoError(t, os.WriteFile(target, []byte("first"), 0o600))

			w := startWatcher(t, backend, []string{target})

			require.NoError(t, os.Remove(target))
			waitForTick(t, w.Ticks(), 2*time.Second, "deleting file")

			require.NoError(t, os.WriteFile(target, []byte("second"), 0o600))
			waitForTick(t, w.Ticks(), 2*time.Second, "recreating file")
		})
	}
}

func TestWatcher_DetectsDoubleSymlinkRetargeting(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}

	for _, backend := range backends(t) {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()

			realDataA := filepath.Join(dir, "real_data_a")
			realDataB := filepath.Join(dir, "real_data_b")
			data := filepath.Join(dir, "data")

			require.NoError(t, os.Mkdir(realDataA, 0o700))
			require.NoError(t, os.Mkdir(realDataB, 0o700))
			require.NoError(t, os.WriteFile(filepath.Join(realDataA, "leaf.der"), []byte("gen-a"), 0o600))
			require.NoError(t, os.WriteFile(filepath.Join(realDataB, "leaf.der"), []byte("gen-b"), 0o600))
			require.NoError(t, os.Symlink(realDataA, data))

			leaf := filepath.Join(dir, "leaf.der")
			require.NoError(t, os.Symlink(filepath.Join(data, "leaf.der"), leaf))

			w := startWatcher(t, backend, []string{leaf})

			// Atomically swap the intermediate directory symlink.
			tmp := filepath.Join(dir, "data.tmp")
			require.NoError(t, os.Symlink(realDataB, tmp))
			require.NoError(t, os.Rename(tmp, data))

			waitForTick(t, w.Ticks(), 2*time.Second, "retargeting intermediate directory symlink")

			content, err := os.ReadFile(leaf)
			require.NoError(t, err)
			assert.Equal(t, "gen-b", string(content))
		})
	}
}

func TestWatcher_MissingPathAtStartupIsNotAnError(t *testing.T) {
	for _, backend := range backends(t) {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			target := filepath.Join(dir, "not-yet-created")

			w := New(zaptest.NewLogger(t), []string{target}, 50*time.Millisecond, backend)
			require.NoError(t, w.Start(context.Background()))
			t.Cleanup(func() { _ = w.Stop(context.Background()) })

			assertNoTick(t, w.Ticks(), 150*time.Millisecond)

			require.NoError(t, os.WriteFile(target, []byte("now it exists"), 0o600))
			waitForTick(t, w.Ticks(), 2*time.Second, "path appearing after startup")
		})
	}
}

func TestWatcher_StopTerminatesGoroutine(t *testing.T) {
	dir := t.TempDir()
	w := New(zaptest.NewLogger(t), []string{filepath.Join(dir, "x")}, 20*time.Millisecond, BackendPoll)
	require.NoError(t, w.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		_ = w.Stop(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly")
	}
}

func TestResolveWatchDirs_FollowsSymlinkChain(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}

	dir := t.TempDir()
	realData := filepath.Join(dir, "real_data")
	data := filepath.Join(dir, "data")
	require.NoError(t, os.Mkdir(realData, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(realData, "ca.pem"), []byte("x"), 0o600))
	require.NoError(t, os.Symlink(realData, data))

	leaf := filepath.Join(dir, "ca.pem")
	require.NoError(t, os.Symlink(filepath.Join(data, "ca.pem"), leaf))

	dirs := resolveWatchDirs(leaf)
	assert.Contains(t, dirs, dir)
	assert.Contains(t, dirs, data)
}
