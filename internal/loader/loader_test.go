package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"httploader/internal/errs"
	"httploader/internal/registry"
	"httploader/internal/transport"
)

// mockExecutor records every invocation. When gate is set, each invocation
// blocks until gate is closed.
type mockExecutor struct {
	mu      sync.Mutex
	calls   [][]string
	gate    chan struct{}
	started chan []string
	outcome func(key string) Outcome
	err     error
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{started: make(chan []string, 100)}
}

func (m *mockExecutor) ExecuteBatch(ctx context.Context, groupID int, keys []string) ([]Outcome, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), keys...))
	gate := m.gate
	m.mu.Unlock()

	m.started <- keys
	if gate != nil {
		<-gate
	}
	if m.err != nil {
		return nil, m.err
	}

	out := make([]Outcome, len(keys))
	for i, key := range keys {
		if m.outcome != nil {
			out[i] = m.outcome(key)
		} else {
			out[i] = Outcome{Value: "value:" + key}
		}
	}
	return out, nil
}

func (m *mockExecutor) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockExecutor) waitStarted(t *testing.T) []string {
	t.Helper()
	select {
	case keys := <-m.started:
		return keys
	case <-time.After(2 * time.Second):
		t.Fatal("executor was not invoked")
		return nil
	}
}

func entries(keys ...string) []registry.Entry {
	out := make([]registry.Entry, len(keys))
	for i, k := range keys {
		out[i] = registry.Entry{Key: k, Target: transport.Target{URL: "http://example.test/" + k}}
	}
	return out
}

func newTestLoader(t *testing.T, exec Executor, opts ...Option) *Loader {
	t.Helper()
	return New(registry.New(), exec, zerolog.Nop(), opts...)
}

func mustRegister(t *testing.T, l *Loader, keys ...string) registry.Group {
	t.Helper()
	g, err := l.Register(entries(keys...)...)
	require.NoError(t, err)
	return g
}

func TestLoader_DedupRepeatedLoads(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	mustRegister(t, l, "a")

	ctx := context.Background()
	for range 3 {
		v, err := l.LoadOne(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "value:a", v)
	}

	assert.Len(t, exec.Calls(), 1)
	assert.Equal(t, uint64(2), l.Stats().Hits)
}

func TestLoader_CoalescesKeysOfOneRegistration(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	mustRegister(t, l, "A", "B", "C")

	values, err := l.Load(context.Background(), "A", "B", "C")
	require.NoError(t, err)
	assert.Equal(t, []any{"value:A", "value:B", "value:C"}, values)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, calls[0])
}

func TestLoader_IsolatesGroups(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	mustRegister(t, l, "A")
	mustRegister(t, l, "B")

	_, err := l.Load(context.Background(), "A", "B")
	require.NoError(t, err)

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.ElementsMatch(t, [][]string{{"A"}, {"B"}}, calls)
}

func TestLoader_IdempotentRegistration(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	g1 := mustRegister(t, l, "A", "B")
	g2 := mustRegister(t, l, "A", "C")
	assert.Equal(t, []string{"C"}, g2.Keys)

	d, err := l.Registry().Resolve("A")
	require.NoError(t, err)
	assert.Equal(t, g1.ID, d.GroupID)

	_, err = l.Load(context.Background(), "A", "B", "C")
	require.NoError(t, err)

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.ElementsMatch(t, [][]string{{"A", "B"}, {"C"}}, calls)
}

func TestLoader_InvalidateScoping(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	mustRegister(t, l, "A", "B")

	ctx := context.Background()
	_, err := l.Load(ctx, "A", "B")
	require.NoError(t, err)

	values, err := l.Invalidate("A").Load(ctx, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, []any{"value:A", "value:B"}, values)

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"A"}, calls[1])
}

func TestLoader_InvalidateUnknownKeyIsNoop(t *testing.T) {
	l := newTestLoader(t, newMockExecutor())
	mustRegister(t, l, "A")

	assert.NotPanics(t, func() {
		l.Invalidate("missing", "A")
	})
}

func TestLoader_InvalidateAll(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	mustRegister(t, l, "A", "B")
	mustRegister(t, l, "C")

	ctx := context.Background()
	_, err := l.Load(ctx, "A", "B", "C")
	require.NoError(t, err)
	require.Len(t, exec.Calls(), 2)

	_, err = l.InvalidateAll().Load(ctx, "A", "B", "C")
	require.NoError(t, err)
	assert.Len(t, exec.Calls(), 4)
	assert.Equal(t, uint64(3), l.Stats().Invalidated)
}

func TestLoader_PreservesRequestOrder(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	mustRegister(t, l, "A", "B")
	mustRegister(t, l, "C")

	values, err := l.Load(context.Background(), "C", "B", "A", "B")
	require.NoError(t, err)
	assert.Equal(t, []any{"value:C", "value:B", "value:A", "value:B"}, values)

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.ElementsMatch(t, [][]string{{"C"}, {"B", "A"}}, calls)
}

func TestLoader_EmptyKeys(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)

	_, err := l.Load(context.Background())
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = l.LoadMany(context.Background())
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
	assert.Empty(t, exec.Calls())
}

func TestLoader_UnknownKeySchedulesNothing(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	mustRegister(t, l, "A")

	_, err := l.Load(context.Background(), "A", "missing")
	require.ErrorIs(t, err, errs.ErrUnknownKey)

	var e *errs.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "missing", e.Key)
	assert.Empty(t, exec.Calls())
}

func TestLoader_ConcurrentCallersAttachToInFlight(t *testing.T) {
	exec := newMockExecutor()
	exec.gate = make(chan struct{})
	l := newTestLoader(t, exec)
	mustRegister(t, l, "a", "b")

	ctx := context.Background()
	first := make(chan error, 1)
	go func() {
		_, err := l.Load(ctx, "a")
		first <- err
	}()
	assert.Equal(t, []string{"a"}, exec.waitStarted(t))

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	results := make([][]any, n)
	loadErrs := make([]error, n)
	for i := range n {
		go func(i int) {
			defer wg.Done()
			results[i], loadErrs[i] = l.Load(ctx, "a", "b")
		}(i)
	}

	// Only b is new; a is already in flight
	assert.Equal(t, []string{"b"}, exec.waitStarted(t))
	close(exec.gate)
	wg.Wait()
	require.NoError(t, <-first)

	for i := range n {
		require.NoError(t, loadErrs[i])
		assert.Equal(t, []any{"value:a", "value:b"}, results[i])
	}
	assert.Len(t, exec.Calls(), 2)
}

func TestLoader_CachesFailures(t *testing.T) {
	boom := errs.HTTPStatus("bad", 500, []byte("oops"))
	exec := newMockExecutor()
	exec.outcome = func(key string) Outcome {
		if key == "bad" {
			return Outcome{Err: boom}
		}
		return Outcome{Value: "value:" + key}
	}
	l := newTestLoader(t, exec)
	mustRegister(t, l, "good", "bad")

	ctx := context.Background()
	for range 2 {
		_, err := l.LoadOne(ctx, "bad")
		require.ErrorIs(t, err, errs.ErrTransport)
		assert.Same(t, boom, err)
	}
	assert.Len(t, exec.Calls(), 1)
	assert.Equal(t, uint64(1), l.Stats().Failures)

	// Invalidation gives the key another execution
	_, err := l.Invalidate("bad").LoadOne(ctx, "bad")
	assert.ErrorIs(t, err, errs.ErrTransport)
	assert.Len(t, exec.Calls(), 2)
}

func TestLoader_PerKeyFailureIsolation(t *testing.T) {
	exec := newMockExecutor()
	exec.outcome = func(key string) Outcome {
		if key == "bad" {
			return Outcome{Err: errs.Parse(key, errors.New("bad json"))}
		}
		return Outcome{Value: "value:" + key}
	}
	l := newTestLoader(t, exec)
	mustRegister(t, l, "good", "bad")

	ctx := context.Background()
	results, err := l.LoadMany(ctx, "good", "bad")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "good", results[0].Key)
	assert.Equal(t, "value:good", results[0].Value)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, errs.ErrParse)

	_, err = l.Load(ctx, "good", "bad")
	assert.ErrorIs(t, err, errs.ErrParse)

	v, err := l.LoadOne(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "value:good", v)
	assert.Len(t, exec.Calls(), 1)
}

func TestLoader_WholeBatchFailure(t *testing.T) {
	boom := errors.New("connection refused")
	exec := newMockExecutor()
	exec.err = boom
	l := newTestLoader(t, exec)
	mustRegister(t, l, "a", "b")

	results, err := l.LoadMany(context.Background(), "a", "b")
	require.NoError(t, err)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, boom)
		assert.ErrorIs(t, r.Err, errs.ErrTransport)
	}
	assert.Same(t, results[0].Err, results[1].Err)
}

func TestLoader_ResultSizeMismatch(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, groupID int, keys []string) ([]Outcome, error) {
		return []Outcome{{Value: 1}}, nil
	})
	l := newTestLoader(t, exec)
	mustRegister(t, l, "a", "b")

	_, err := l.Load(context.Background(), "a", "b")
	assert.ErrorIs(t, err, errs.ErrTransport)
}

func TestLoader_ExecutorPanicFailsBatch(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, groupID int, keys []string) ([]Outcome, error) {
		panic("kaboom")
	})
	l := newTestLoader(t, exec)
	mustRegister(t, l, "a")

	_, err := l.LoadOne(context.Background(), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestLoader_InvalidateDuringFlight(t *testing.T) {
	exec := newMockExecutor()
	exec.gate = make(chan struct{})
	l := newTestLoader(t, exec)
	mustRegister(t, l, "a")

	ctx := context.Background()
	done := make(chan error, 2)
	go func() {
		_, err := l.LoadOne(ctx, "a")
		done <- err
	}()
	exec.waitStarted(t)

	l.Invalidate("a")
	go func() {
		_, err := l.LoadOne(ctx, "a")
		done <- err
	}()
	exec.waitStarted(t)

	close(exec.gate)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	assert.Len(t, exec.Calls(), 2)
}

func TestLoader_CallerCancellationDoesNotCancelExecution(t *testing.T) {
	exec := newMockExecutor()
	exec.gate = make(chan struct{})
	l := newTestLoader(t, exec)
	mustRegister(t, l, "a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := l.LoadOne(ctx, "a")
		done <- err
	}()
	exec.waitStarted(t)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(exec.gate)
	v, err := l.LoadOne(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "value:a", v)
	assert.Len(t, exec.Calls(), 1)
}

func TestLoader_Prime(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	mustRegister(t, l, "a", "b")

	ok, err := l.Prime("a", "primed")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Prime("a", "again")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = l.Prime("missing", 1)
	assert.ErrorIs(t, err, errs.ErrUnknownKey)

	values, err := l.Load(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []any{"primed", "value:b"}, values)

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"b"}, calls[0])
}

func TestLoader_KeysRegisteredOnRegistryDirectly(t *testing.T) {
	exec := newMockExecutor()
	reg := registry.New()
	_, err := reg.Register(entries("a", "b")...)
	require.NoError(t, err)

	l := New(reg, exec, zerolog.Nop())
	_, err = l.Load(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Len(t, exec.Calls(), 1)
}

func TestLoader_BatchWindowCoalescesConcurrentCallers(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec, WithBatchWindow(time.Minute))
	mustRegister(t, l, "A", "B", "C")

	var wg sync.WaitGroup
	for _, key := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.LoadOne(context.Background(), key)
			assert.NoError(t, err)
			assert.Equal(t, "value:"+key, v)
		}()
	}
	wg.Wait()

	// Every member queued, so the batch flushed without waiting a minute
	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, calls[0])
}

func TestLoader_BatchWindowTimerFlush(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec, WithBatchWindow(10*time.Millisecond))
	mustRegister(t, l, "A", "B")

	v, err := l.LoadOne(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "value:A", v)
	assert.Equal(t, [][]string{{"A"}}, exec.Calls())
}

func TestLoader_Flush(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec, WithBatchWindow(time.Hour))
	mustRegister(t, l, "A", "B")

	done := make(chan any, 1)
	go func() {
		v, _ := l.LoadOne(context.Background(), "A")
		done <- v
	}()

	require.Eventually(t, func() bool {
		l.Flush()
		return len(exec.Calls()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "value:A", <-done)
}

func TestLoader_Stats(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec)
	mustRegister(t, l, "a", "b")

	ctx := context.Background()
	_, err := l.Load(ctx, "a", "b")
	require.NoError(t, err)
	_, err = l.Load(ctx, "a")
	require.NoError(t, err)

	s := l.Stats()
	assert.Equal(t, uint64(1), s.Executions)
	assert.Equal(t, uint64(2), s.ExecutedKeys)
	assert.Equal(t, uint64(1), s.Hits)
	assert.Zero(t, s.Failures)
}

func TestLoader_DefaultWindowCoalescesConcurrentCallers(t *testing.T) {
	exec := newMockExecutor()
	l := New(registry.New(), exec, zerolog.Nop())
	assert.Equal(t, DefaultBatchWindow, l.window)
	mustRegister(t, l, "A", "B", "C")

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, key := range []string{"A", "B", "C"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			v, err := l.LoadOne(context.Background(), key)
			assert.NoError(t, err)
			assert.Equal(t, "value:"+key, v)
		}()
	}
	close(start)
	wg.Wait()

	calls := exec.Calls()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []string{"A", "B", "C"}, calls[0])
}

func TestLoader_ZeroWindowExecutesImmediately(t *testing.T) {
	exec := newMockExecutor()
	l := newTestLoader(t, exec, WithBatchWindow(0))
	mustRegister(t, l, "A", "B")

	v, err := l.LoadOne(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "value:A", v)
	assert.Equal(t, [][]string{{"A"}}, exec.Calls())
}
