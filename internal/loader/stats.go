package loader

import "sync/atomic"

// Stats is a snapshot of loader counters
type Stats struct {
	Executions   uint64 // executor invocations
	ExecutedKeys uint64 // keys handed to the executor
	Hits         uint64 // keys served from a settled entry
	Attached     uint64 // keys that joined an in-flight entry
	Failures     uint64 // keys settled with an error
	Invalidated  uint64 // entries dropped by Invalidate or InvalidateAll
}

type counters struct {
	executions   atomic.Uint64
	executedKeys atomic.Uint64
	hits         atomic.Uint64
	attached     atomic.Uint64
	failures     atomic.Uint64
	invalidated  atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Executions:   c.executions.Load(),
		ExecutedKeys: c.executedKeys.Load(),
		Hits:         c.hits.Load(),
		Attached:     c.attached.Load(),
		Failures:     c.failures.Load(),
		Invalidated:  c.invalidated.Load(),
	}
}
