package lock

import (
	"context"
	"sync"
)

// Queue serializes work per key in arrival order. Different keys never wait
// on each other.
type Queue struct {
	mu    sync.Mutex
	tails map[string]*ticket
}

type ticket struct {
	key  string
	done chan struct{}
}

func NewQueue() *Queue {
	return &Queue{tails: make(map[string]*ticket)}
}

// Acquire blocks until every earlier Acquire of key has released. The
// returned release must be called exactly once; extra calls are ignored.
//
// If ctx ends while waiting, Acquire returns ctx.Err() and the slot is
// handed on as soon as the predecessor finishes, so later waiters keep
// their order.
func (q *Queue) Acquire(ctx context.Context, key string) (release func(), err error) {
	q.mu.Lock()
	prev := q.tails[key]
	t := &ticket{key: key, done: make(chan struct{})}
	q.tails[key] = t
	q.mu.Unlock()

	var once sync.Once
	release = func() { once.Do(func() { q.finish(t) }) }

	if prev == nil {
		return release, nil
	}
	select {
	case <-prev.done:
		return release, nil
	case <-ctx.Done():
		go func() {
			<-prev.done
			release()
		}()
		return nil, ctx.Err()
	}
}

func (q *Queue) finish(t *ticket) {
	q.mu.Lock()
	if q.tails[t.key] == t {
		delete(q.tails, t.key)
	}
	q.mu.Unlock()
	close(t.done)
}

// Len reports the number of keys with queued or running work.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tails)
}
