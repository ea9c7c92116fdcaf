package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]byte
}

func (r *recorder) reload(_ context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, data)
	return nil
}

func (r *recorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.calls...)
}

func start(t *testing.T, path string, fn ReloadFunc) {
	t.Helper()
	w, err := New(path, fn)
	require.NoError(t, err)
	w.SetDebounce(150 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.csv")
	require.NoError(t, os.WriteFile(path, []byte("Site\nA\n"), 0o600))

	rec := &recorder{}
	start(t, path, rec.reload)

	for _, body := range []string{"Site\nB\n", "Site\nC\n", "Site\nD\n"} {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	calls := rec.snapshot()
	assert.Len(t, calls, 1, "a burst of writes must reload once")
	assert.Equal(t, "Site\nD\n", string(calls[len(calls)-1]))
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.csv")
	require.NoError(t, os.WriteFile(path, []byte("Site\nA\n"), 0o600))

	rec := &recorder{}
	start(t, path, rec.reload)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.csv"), []byte("x"), 0o600))
	time.Sleep(400 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestWatcher_RenameIntoPlace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.csv")
	require.NoError(t, os.WriteFile(path, []byte("Site\nA\n"), 0o600))

	rec := &recorder{}
	start(t, path, rec.reload)

	tmp := filepath.Join(dir, ".inventory.csv.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("Site\nRenamed\n"), 0o600))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		calls := rec.snapshot()
		return len(calls) > 0 && string(calls[len(calls)-1]) == "Site\nRenamed\n"
	}, 3*time.Second, 20*time.Millisecond)
}

func TestWatcher_ReloadErrorKeepsRunning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.csv")
	require.NoError(t, os.WriteFile(path, []byte("Site\nA\n"), 0o600))

	var mu sync.Mutex
	attempts := 0
	start(t, path, func(context.Context, []byte) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("undecodable")
	})

	require.NoError(t, os.WriteFile(path, []byte("one"), 0o600))
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return attempts == 1 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("two"), 0o600))
	require.Eventually(t, func() bool { mu.Lock(); defer mu.Unlock(); return attempts == 2 }, 3*time.Second, 20*time.Millisecond)
}

func TestNew_MissingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope", "inventory.csv"), func(context.Context, []byte) error { return nil })
	assert.Error(t, err)
}
