package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"httploader/internal/errs"
	"httploader/internal/registry"
)

// Loader coalesces loads of registered keys into one executor call per batch
// group and caches every outcome until it is invalidated
type Loader struct {
	registry *registry.Registry
	executor Executor
	groups   map[int]*group // group id -> entries
	window   time.Duration
	stats    counters
	logger   zerolog.Logger
	mu       sync.RWMutex
}

// DefaultBatchWindow is how long created entries wait for concurrent load
// calls on the same group before the batch executes
const DefaultBatchWindow = 2 * time.Millisecond

// Option configures a Loader
type Option func(*Loader)

// WithBatchWindow delays executions by up to d so that concurrent load calls
// for keys of the same group share one executor call. A batch is flushed
// early once every member of its group is queued. Zero executes the keys of
// each load call immediately.
func WithBatchWindow(d time.Duration) Option {
	return func(l *Loader) {
		if d < 0 {
			d = 0
		}
		l.window = d
	}
}

// New creates a new Loader over reg. Keys registered on reg directly are
// loadable as well; their group store is created on first use.
func New(reg *registry.Registry, executor Executor, logger zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		registry: reg,
		executor: executor,
		groups:   make(map[int]*group),
		window:   DefaultBatchWindow,
		logger:   logger.With().Str("component", "loader").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Registry returns the underlying registry
func (l *Loader) Registry() *registry.Registry {
	return l.registry
}

// Register registers entries as one new batch group. Keys that are already
// registered are skipped.
func (l *Loader) Register(entries ...registry.Entry) (registry.Group, error) {
	g, err := l.registry.Register(entries...)
	if err != nil {
		return registry.Group{}, err
	}

	if len(g.Keys) == 0 {
		l.logger.Debug().
			Int("entries", len(entries)).
			Msg("all keys already registered, no group created")
		return g, nil
	}

	l.logger.Info().
		Int("group", g.ID).
		Strs("keys", g.Keys).
		Msg("registered batch group")

	return g, nil
}

// Load returns the values of keys in request order. It fails with the first
// failing key's error in request order.
func (l *Loader) Load(ctx context.Context, keys ...string) ([]any, error) {
	results, err := l.LoadMany(ctx, keys...)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(results))
	for i, r := range results {
		if r.Err != nil {
			return nil, r.Err
		}
		values[i] = r.Value
	}
	return values, nil
}

// LoadOne returns the value of a single key
func (l *Loader) LoadOne(ctx context.Context, key string) (any, error) {
	values, err := l.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return values[0], nil
}

// LoadMany returns one Result per requested key, in request order. A failing
// key does not fail its siblings. The returned error is reserved for invalid
// calls: no keys, or a key that was never registered. In that case nothing is
// scheduled.
func (l *Loader) LoadMany(ctx context.Context, keys ...string) ([]Result, error) {
	if len(keys) == 0 {
		return nil, errs.InvalidArgument("at least one key is required")
	}

	// Resolve everything before scheduling anything
	var order []int
	byGroup := make(map[int][]string)
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		d, err := l.registry.Resolve(key)
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := byGroup[d.GroupID]; !ok {
			order = append(order, d.GroupID)
		}
		byGroup[d.GroupID] = append(byGroup[d.GroupID], key)
	}

	entries := make(map[string]*entry, len(seen))
	for _, id := range order {
		g, err := l.group(id)
		if err != nil {
			return nil, err
		}

		acq := g.acquire(byGroup[id])
		for key, e := range acq.entries {
			entries[key] = e
		}
		l.stats.hits.Add(uint64(acq.hits))
		l.stats.attached.Add(uint64(acq.attached))

		if len(acq.created) > 0 {
			// Executions outlive the caller and always settle
			l.dispatch(context.WithoutCancel(ctx), g, acq.created, acq.pending)
		}
	}

	results := make([]Result, len(keys))
	for i, key := range keys {
		v, err := entries[key].wait(ctx)
		results[i] = Result{Key: key, Value: v, Err: err}
	}
	return results, nil
}

// Prime stores value for key as a settled success unless the key already has
// a pending or settled entry. It reports whether value was stored.
func (l *Loader) Prime(key string, value any) (bool, error) {
	d, err := l.registry.Resolve(key)
	if err != nil {
		return false, err
	}
	g, err := l.group(d.GroupID)
	if err != nil {
		return false, err
	}
	return g.prime(key, value), nil
}

// Invalidate drops the cached outcome of each key. The next load of a key
// executes it again. Unknown keys are ignored.
func (l *Loader) Invalidate(keys ...string) *Loader {
	for _, key := range keys {
		d, err := l.registry.Resolve(key)
		if err != nil {
			continue
		}

		l.mu.RLock()
		g := l.groups[d.GroupID]
		l.mu.RUnlock()

		if g != nil && g.remove(key) {
			l.stats.invalidated.Add(1)
			l.logger.Debug().Str("key", key).Int("group", g.id).Msg("invalidated")
		}
	}
	return l
}

// InvalidateAll drops the cached outcome of every key in every group
func (l *Loader) InvalidateAll() *Loader {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0
	for _, g := range l.groups {
		n := g.size()
		g.purge()
		total += n
	}
	l.stats.invalidated.Add(uint64(total))
	l.logger.Debug().Int("entries", total).Msg("invalidated all")
	return l
}

// Stats returns a snapshot of the loader counters
func (l *Loader) Stats() Stats {
	return l.stats.snapshot()
}

// group returns the store of a group, creating it on first use
func (l *Loader) group(id int) (*group, error) {
	l.mu.RLock()
	g := l.groups[id]
	l.mu.RUnlock()
	if g != nil {
		return g, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if g := l.groups[id]; g != nil {
		return g, nil
	}

	members := l.registry.Members(id)
	if len(members) == 0 {
		return nil, fmt.Errorf("group %d has no members", id)
	}
	g, err := newGroup(id, len(members))
	if err != nil {
		return nil, fmt.Errorf("failed to create group store: %w", err)
	}
	l.groups[id] = g
	return g, nil
}

// dispatch starts or queues the execution of created entries
func (l *Loader) dispatch(ctx context.Context, g *group, keys []string, pending []*entry) {
	if l.window <= 0 {
		slots := make([][]*entry, len(pending))
		for i, e := range pending {
			slots[i] = []*entry{e}
		}
		go l.execute(ctx, g, keys, slots)
		return
	}
	if full := g.enqueue(ctx, keys, pending, l.window, func() { l.flush(g) }); full {
		go l.flush(g)
	}
}

// flush executes the queued batch of a group, if any
func (l *Loader) flush(g *group) {
	ctx, keys, pending := g.take()
	if len(keys) == 0 {
		return
	}
	l.execute(ctx, g, keys, pending)
}

// Flush executes every queued batch without waiting for its window to close
// and returns once they have settled
func (l *Loader) Flush() {
	l.mu.RLock()
	groups := make([]*group, 0, len(l.groups))
	for _, g := range l.groups {
		groups = append(groups, g)
	}
	l.mu.RUnlock()

	var wg sync.WaitGroup
	for _, g := range groups {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.flush(g)
		}()
	}
	wg.Wait()
}

// execute runs the executor for the created entries of one group and
// settles each of them exactly once. pending[i] holds the entries of keys[i].
func (l *Loader) execute(ctx context.Context, g *group, keys []string, pending [][]*entry) {
	l.stats.executions.Add(1)
	l.stats.executedKeys.Add(uint64(len(keys)))

	l.logger.Debug().
		Int("group", g.id).
		Strs("keys", keys).
		Msg("executing batch")

	outcomes, err := l.invoke(ctx, g.id, keys)
	if err == nil && len(outcomes) != len(keys) {
		err = &errs.Error{
			Code:    errs.CodeTransport,
			Message: fmt.Sprintf("batch result size mismatch: expected %d, got %d", len(keys), len(outcomes)),
		}
	}

	if err != nil {
		var typed *errs.Error
		if !errors.As(err, &typed) {
			err = errs.Transport("", err)
		}
		for _, slot := range pending {
			for _, e := range slot {
				e.settle(nil, err)
			}
		}
		l.stats.failures.Add(uint64(len(keys)))

		l.logger.Warn().
			Err(err).
			Int("group", g.id).
			Int("keys", len(keys)).
			Msg("batch failed")
		return
	}

	failed := 0
	for i, slot := range pending {
		for _, e := range slot {
			e.settle(outcomes[i].Value, outcomes[i].Err)
		}
		if outcomes[i].Err != nil {
			failed++
		}
	}
	l.stats.failures.Add(uint64(failed))

	l.logger.Debug().
		Int("group", g.id).
		Int("keys", len(keys)).
		Int("failed", failed).
		Msg("batch completed")
}

// invoke calls the executor, turning a panic into a failure of the whole batch
func (l *Loader) invoke(ctx context.Context, groupID int, keys []string) (outcomes []Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcomes = nil
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()

	if l.executor == nil {
		return nil, errors.New("executor not set")
	}

	arg := make([]string, len(keys))
	copy(arg, keys)
	return l.executor.ExecuteBatch(ctx, groupID, arg)
}
