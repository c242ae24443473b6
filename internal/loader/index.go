// Package loader provides key-addressed batching and memoization of fetches.
//
// Keys are registered through a registry.Registry. Every Register call
// creates one batch group holding the keys that call introduced. Loading
// keys partitions them by group and invokes the Executor at most once per
// group for the keys that have neither a pending nor a settled entry.
// Outcomes, successes and failures alike, stay cached until invalidated.
//
// Example:
//
//	reg := registry.New()
//	exec := loader.NewFetchExecutor(reg, mux, logger)
//	l := loader.New(reg, exec, logger)
//
//	l.Register(
//	    registry.Entry{Key: "c", Target: transport.Target{URL: u1}},
//	    registry.Entry{Key: "v", Target: transport.Target{URL: u2}, Parse: parse.Text()},
//	)
//	values, err := l.Load(ctx, "v", "c") // one executor call for {v, c}
package loader
