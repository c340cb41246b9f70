package autodeploy

import (
	"context"
	"log/slog"
	"sync"
)

// Queue runs tasks one at a time per key, in submission order. Tasks under
// different keys run concurrently.
type Queue struct {
	mu     sync.Mutex
	tails  map[string]*slot
	wg     sync.WaitGroup
	logger *slog.Logger
}

type slot struct {
	done chan struct{}
}

// NewQueue returns an empty queue. Recovered task panics are logged to logger.
func NewQueue(logger *slog.Logger) *Queue {
	return &Queue{tails: make(map[string]*slot), logger: logger}
}

// Submit schedules task after every task already submitted under key. It
// never blocks. A task that panics still releases the next one.
func (q *Queue) Submit(key string, task func()) {
	s := &slot{done: make(chan struct{})}
	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = s
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		defer q.settle(key, s)
		if prev != nil {
			<-prev.done
		}
		defer func() {
			if p := recover(); p != nil {
				q.logger.Error("queued task panicked", "key", key, "panic", p)
			}
		}()
		task()
	}()
}

func (q *Queue) settle(key string, s *slot) {
	q.mu.Lock()
	if q.tails[key] == s {
		delete(q.tails, key)
	}
	q.mu.Unlock()
	close(s.done)
}

// Keys returns the number of keys with pending or running tasks.
func (q *Queue) Keys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}

// Busy reports whether key has a pending or running task.
func (q *Queue) Busy(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tails[key]
	return ok
}

// Wait blocks until every submitted task has finished or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
