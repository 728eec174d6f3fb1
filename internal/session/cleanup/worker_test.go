package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeSessions struct {
	mu      sync.Mutex
	calls   int
	deleted []int
	err     error
}

func (f *fakeSessions) CleanupExpiredSessions(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	if len(f.deleted) == 0 {
		return 0, nil
	}
	n := f.deleted[0]
	f.deleted = f.deleted[1:]
	return n, nil
}

func (f *fakeSessions) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeLocal struct{ sweeps int }

func (f *fakeLocal) Sweep() int { f.sweeps++; return 1 }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorker_RunOnce(t *testing.T) {
	s := &fakeSessions{deleted: []int{3, 0}}
	local := &fakeLocal{}
	w := NewWorker(s, local, time.Hour, quietLogger())

	if got := w.RunOnce(context.Background()); got != 3 {
		t.Errorf("first RunOnce = %d, want 3", got)
	}
	if got := w.RunOnce(context.Background()); got != 0 {
		t.Errorf("second RunOnce = %d, want 0", got)
	}
	if local.sweeps != 2 {
		t.Errorf("local sweeps = %d, want 2", local.sweeps)
	}
}

func TestWorker_RunOnceError(t *testing.T) {
	s := &fakeSessions{err: errors.New("db down")}
	w := NewWorker(s, nil, time.Hour, quietLogger())
	if got := w.RunOnce(context.Background()); got != 0 {
		t.Errorf("RunOnce on error = %d, want 0", got)
	}
}

func TestWorker_RunTicksUntilCancelled(t *testing.T) {
	s := &fakeSessions{}
	w := NewWorker(s, nil, 10*time.Millisecond, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for s.Calls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("worker ran %d times, want at least 3", s.Calls())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(&fakeSessions{}, nil, 0, nil)
	if w.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", w.interval, DefaultInterval)
	}
	if w.logger == nil {
		t.Error("logger should default")
	}
}
