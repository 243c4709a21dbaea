package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// errQueueClosed is returned by dequeue after close.
var errQueueClosed = errors.New("queue closed")

// dispatch is one due job handed from the tick loop to a worker.
type dispatch struct {
	job     Job
	firedAt time.Time
}

// queue is a bounded in-memory queue with context-aware operations.
type queue struct {
	ch      chan dispatch
	closeMu sync.Mutex
	closed  bool
}

func newQueue(capacity int) *queue {
	return &queue{ch: make(chan dispatch, capacity)}
}

// enqueue pushes d or returns when ctx ends.
func (q *queue) enqueue(ctx context.Context, d dispatch) error {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- d:
		return nil
	}
}

// dequeue pops the next dispatch, respecting ctx.
func (q *queue) dequeue(ctx context.Context) (dispatch, error) {
	select {
	case <-ctx.Done():
		return dispatch{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d, ok := <-q.ch:
		if !ok {
			return dispatch{}, errQueueClosed
		}
		return d, nil
	}
}

func (q *queue) len() int {
	return len(q.ch)
}

// close closes the channel. Safe to call more than once.
func (q *queue) close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
