package loader

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Outcome is the result of one key in a batch execution
type Outcome struct {
	Value any
	Err   error
}

// Result is the outcome of one requested key, in request order
type Result struct {
	Key   string
	Value any
	Err   error
}

// Executor performs the fetch for keys of one group. A returned error fails
// every key of the invocation; otherwise outcomes are positional, outcome[i]
// belonging to keys[i].
type Executor interface {
	ExecuteBatch(ctx context.Context, groupID int, keys []string) ([]Outcome, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, groupID int, keys []string) ([]Outcome, error)

// ExecuteBatch calls f
func (f ExecutorFunc) ExecuteBatch(ctx context.Context, groupID int, keys []string) ([]Outcome, error) {
	return f(ctx, groupID, keys)
}

// entry is a pending or settled outcome. Only the execution that created it
// calls settle, exactly once.
type entry struct {
	done  chan struct{}
	value any
	err   error
}

func newEntry() *entry {
	return &entry{done: make(chan struct{})}
}

func settledEntry(value any) *entry {
	e := newEntry()
	e.settle(value, nil)
	return e
}

func (e *entry) settle(value any, err error) {
	e.value = value
	e.err = err
	close(e.done)
}

func (e *entry) isSettled() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *entry) wait(ctx context.Context) (any, error) {
	select {
	case <-e.done:
		return e.value, e.err
	default:
	}
	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// group owns the entries of one batch group. The store is an lru.Cache
// sized to the member count, which is fixed, so it never evicts: entries
// leave only through remove and purge.
type group struct {
	id      int
	members int
	entries *lru.Cache[string, *entry]

	// created entries waiting for the batch window to close
	queue    []string
	queued   map[string][]*entry
	queueCtx context.Context
	timer    *time.Timer

	mu sync.Mutex
}

func newGroup(id int, members int) (*group, error) {
	if members < 1 {
		members = 1
	}
	entries, err := lru.New[string, *entry](members)
	if err != nil {
		return nil, err
	}
	return &group{id: id, members: members, entries: entries}, nil
}

// acquisition is what one load call got from a group
type acquisition struct {
	entries  map[string]*entry
	created  []string
	pending  []*entry
	hits     int
	attached int
}

// acquire attaches to the existing entries of keys and creates pending
// entries for the rest. The created entries must be settled by the caller.
func (g *group) acquire(keys []string) acquisition {
	g.mu.Lock()
	defer g.mu.Unlock()

	acq := acquisition{entries: make(map[string]*entry, len(keys))}
	for _, key := range keys {
		if e, ok := g.entries.Get(key); ok {
			if e.isSettled() {
				acq.hits++
			} else {
				acq.attached++
			}
			acq.entries[key] = e
			continue
		}

		e := newEntry()
		g.entries.Add(key, e)
		acq.entries[key] = e
		acq.created = append(acq.created, key)
		acq.pending = append(acq.pending, e)
	}
	return acq
}

// enqueue adds created entries to the pending batch and starts the window
// timer for the first of them. It returns true when every member is queued
// and the batch should be flushed right away.
func (g *group) enqueue(ctx context.Context, keys []string, pending []*entry, window time.Duration, onFlush func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queue) == 0 {
		g.queueCtx = ctx
		g.queued = make(map[string][]*entry)
	}
	for i, key := range keys {
		// A key invalidated while queued is queued again; both entries
		// settle with the same outcome
		if _, ok := g.queued[key]; !ok {
			g.queue = append(g.queue, key)
		}
		g.queued[key] = append(g.queued[key], pending[i])
	}

	if g.timer == nil {
		g.timer = time.AfterFunc(window, onFlush)
	}
	return len(g.queue) >= g.members
}

// take removes the pending batch. It returns no keys if another flush
// already took it. pending[i] holds the entries of keys[i].
func (g *group) take() (context.Context, []string, [][]*entry) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	ctx, keys := g.queueCtx, g.queue
	pending := make([][]*entry, len(keys))
	for i, key := range keys {
		pending[i] = g.queued[key]
	}
	g.queue, g.queued, g.queueCtx = nil, nil, nil
	return ctx, keys, pending
}

// prime stores a settled value for key unless an entry exists
func (g *group) prime(key string, value any) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.entries.Contains(key) {
		return false
	}
	g.entries.Add(key, settledEntry(value))
	return true
}

// remove drops the entry of key. An in-flight execution still settles the
// dropped entry for the callers already waiting on it.
func (g *group) remove(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entries.Remove(key)
}

// purge drops every entry
func (g *group) purge() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries.Purge()
}

// size returns the number of pending and settled entries
func (g *group) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.entries.Len()
}
