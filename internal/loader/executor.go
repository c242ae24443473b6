package loader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"httploader/internal/errs"
	"httploader/internal/registry"
	"httploader/internal/transport"
)

// DefaultConcurrency is the number of keys of one batch fetched at once
const DefaultConcurrency = 8

// Resolver resolves keys to their descriptors
type Resolver interface {
	Resolve(key string) (registry.Descriptor, error)
}

// FetchExecutor fetches and decodes registered keys through a Transport
type FetchExecutor struct {
	resolver    Resolver
	transport   transport.Transport
	concurrency int
	logger      zerolog.Logger
}

// FetchOption configures a FetchExecutor
type FetchOption func(*FetchExecutor)

// WithConcurrency bounds the number of concurrent fetches per batch.
// Values below 1 select DefaultConcurrency.
func WithConcurrency(n int) FetchOption {
	return func(f *FetchExecutor) {
		if n < 1 {
			n = DefaultConcurrency
		}
		f.concurrency = n
	}
}

// NewFetchExecutor creates a new FetchExecutor
func NewFetchExecutor(resolver Resolver, tr transport.Transport, logger zerolog.Logger, opts ...FetchOption) *FetchExecutor {
	f := &FetchExecutor{
		resolver:    resolver,
		transport:   tr,
		concurrency: DefaultConcurrency,
		logger:      logger.With().Str("component", "executor").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ExecuteBatch fetches every key and reports one outcome per key. It never
// fails the batch as a whole.
func (f *FetchExecutor) ExecuteBatch(ctx context.Context, groupID int, keys []string) ([]Outcome, error) {
	outcomes := make([]Outcome, len(keys))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					outcomes[i] = Outcome{Err: errs.Transport(key, fmt.Errorf("fetch panicked: %v", r))}
				}
			}()
			v, err := f.fetch(ctx, key)
			outcomes[i] = Outcome{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, nil
}

func (f *FetchExecutor) fetch(ctx context.Context, key string) (any, error) {
	d, err := f.resolver.Resolve(key)
	if err != nil {
		return nil, err
	}

	resp, err := f.transport.Fetch(ctx, d.Target)
	if err != nil {
		f.logger.Debug().Err(err).Str("key", key).Msg("fetch failed")
		return nil, errs.Transport(key, err)
	}
	if resp.Status >= 400 {
		f.logger.Debug().Str("key", key).Int("status", resp.Status).Msg("fetch rejected")
		return nil, errs.HTTPStatus(key, resp.Status, resp.Body)
	}

	v, err := d.Parse.Decode(resp.Body)
	if err != nil {
		return nil, errs.Parse(key, err)
	}
	return v, nil
}
