package cliexec

import (
	"context"
	"sync"
)

// RunQueue serializes CLI runs per queue key. Backends with serialize=true
// share one key (the backend id) so their runs execute strictly FIFO;
// non-serialized backends get a per-run key and execute freely.
type RunQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewRunQueue creates an empty queue map.
func NewRunQueue() *RunQueue {
	return &RunQueue{tails: make(map[string]chan struct{})}
}

// QueueKey derives the serialization key for a backend run.
func QueueKey(backendID string, serialize bool, runID string) string {
	if serialize {
		return backendID
	}
	return backendID + ":" + runID
}

// Do runs fn after every previously submitted task with the same key has
// finished. A predecessor's failure (or panic) never blocks successors.
// The map entry is erased only when it still points at the task that just
// finished, so a newer tail is never clobbered.
func (q *RunQueue) Do(ctx context.Context, key string, fn func() error) error {
	done := make(chan struct{})

	q.mu.Lock()
	prev := q.tails[key]
	q.tails[key] = done
	q.mu.Unlock()

	defer func() {
		close(done)
		q.mu.Lock()
		if q.tails[key] == done {
			delete(q.tails, key)
		}
		q.mu.Unlock()
	}()

	// Wait for the predecessor unconditionally: releasing the chain early on
	// cancellation would let a successor overlap a still-running task.
	if prev != nil {
		<-prev
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

// Pending reports whether a task is queued or running for the key.
func (q *RunQueue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tails[key]
	return ok
}
