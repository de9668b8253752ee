package executor

import (
	"sync"
	"time"
)

// DedupState describes what Dedup knows about a request ID.
type DedupState int

const (
	// DedupNew means the ID was unseen and is now claimed by the caller.
	DedupNew DedupState = iota
	// DedupPending means another call with the same ID is still running.
	DedupPending
	// DedupDone means a result for the ID is stored and returned.
	DedupDone
)

type dedupEntry[T any] struct {
	result T
	done   bool
	at     time.Time
}

// Dedup makes client-supplied request IDs idempotent within a TTL window: the
// first call claims the ID, later calls get the stored result. It is safe
// for concurrent use.
type Dedup[T any] struct {
	seen map[string]*dedupEntry[T]
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup that remembers results for ttl.
func NewDedup[T any](ttl time.Duration) *Dedup[T] {
	return &Dedup[T]{
		seen: make(map[string]*dedupEntry[T]),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Begin claims id. When the state is DedupDone the stored result is
// returned. A caller that receives DedupNew must call Finish or Abandon.
func (d *Dedup[T]) Begin(id string) (T, DedupState) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if e, ok := d.seen[id]; ok {
		if !e.done {
			return e.result, DedupPending
		}
		if now.Sub(e.at) < d.ttl {
			return e.result, DedupDone
		}
	}
	d.seen[id] = &dedupEntry[T]{at: now}
	var zero T
	return zero, DedupNew
}

// Finish stores the result for a claimed id.
func (d *Dedup[T]) Finish(id string, result T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen[id] = &dedupEntry[T]{result: result, done: true, at: d.now()}
}

// Abandon forgets a claimed id so it can be retried.
func (d *Dedup[T]) Abandon(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
}

// Cleanup removes finished entries older than the TTL. Call it periodically
// to bound memory.
func (d *Dedup[T]) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, e := range d.seen {
		if e.done && now.Sub(e.at) >= d.ttl {
			delete(d.seen, id)
		}
	}
}

// Len reports the number of tracked IDs.
func (d *Dedup[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
