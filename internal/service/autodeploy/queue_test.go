package autodeploy

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestQueueOrderAndCleanup(t *testing.T) {
	q := NewQueue(discardLogger())
	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		i := i
		q.Submit("k", func() {
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	if err := q.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("out of order at %d: %v", i, order)
		}
	}
	if q.Keys() != 0 || q.Busy("k") {
		t.Fatal("expected queue map to be empty after settling")
	}
}

func TestQueuePanicReleasesNext(t *testing.T) {
	q := NewQueue(discardLogger())
	ran := make(chan struct{})
	q.Submit("k", func() { panic("deploy exploded") })
	q.Submit("k", func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("next task never ran")
	}
}

func TestQueueLogsRecoveredPanic(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	q := NewQueue(slog.New(slog.NewTextHandler(&lockedWriter{mu: &mu, w: &buf}, nil)))
	q.Submit("acme:main", func() { panic("deploy exploded") })
	if err := q.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	out := buf.String()
	if !strings.Contains(out, "queued task panicked") || !strings.Contains(out, "deploy exploded") || !strings.Contains(out, "acme:main") {
		t.Fatalf("expected panic to be logged, got %q", out)
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func TestQueueWaitHonoursContext(t *testing.T) {
	q := NewQueue(discardLogger())
	release := make(chan struct{})
	defer close(release)
	q.Submit("k", func() { <-release })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Wait(ctx); err == nil {
		t.Fatal("expected context error")
	}
}
