package janitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type mockSessions struct {
	mu    sync.Mutex
	calls []time.Time
	n     int64
	err   error
}

func (m *mockSessions) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, now)
	return m.n, m.err
}

func (m *mockSessions) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockCache struct{ evicted int }

func (c *mockCache) Sweep() int { return c.evicted }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepNow(t *testing.T) {
	sessions := &mockSessions{n: 3}
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(sessions, quietLogger(), &mockCache{evicted: 2}, &mockCache{evicted: 1})
	e.now = func() time.Time { return fixed }

	res, err := e.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("SweepNow: %v", err)
	}
	if res.Sessions != 3 || res.Views != 3 {
		t.Errorf("result = %+v, want 3 sessions and 3 views", res)
	}
	if len(sessions.calls) != 1 || !sessions.calls[0].Equal(fixed) {
		t.Errorf("sweep called with %v, want %v", sessions.calls, fixed)
	}
}

func TestSweepNow_StoreError(t *testing.T) {
	cache := &mockCache{evicted: 5}
	e := NewEngine(&mockSessions{err: errors.New("locked")}, quietLogger(), cache)

	if _, err := e.SweepNow(context.Background()); err == nil {
		t.Fatal("expected error from store")
	}
}

func TestRun_SweepsUntilCancelled(t *testing.T) {
	sessions := &mockSessions{}
	e := NewEngine(sessions, quietLogger())
	e.SetTickInterval(5 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for sessions.callCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v, want context.Canceled", err)
	}
	if sessions.callCount() < 3 {
		t.Errorf("expected at least 3 sweeps, got %d", sessions.callCount())
	}
}
