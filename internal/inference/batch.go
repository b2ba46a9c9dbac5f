package inference

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// BatchItem is the outcome of one batch request. Exactly one of Result
// and Err is set.
type BatchItem struct {
	Result *Result
	Err    error
}

// GenerateBatch runs independent requests concurrently with at most
// workers in flight. Items are returned in request order. A failing
// request does not affect the others; the returned error joins every
// per-request error and is nil when all succeeded. Cancelling ctx stops
// all requests. OnToken must be safe for concurrent use.
func (g *Generator) GenerateBatch(ctx context.Context, reqs []Request, workers int) ([]BatchItem, error) {
	if workers <= 0 {
		workers = 1
	}
	items := make([]BatchItem, len(reqs))

	var eg errgroup.Group
	eg.SetLimit(workers)
	for i, req := range reqs {
		eg.Go(func() error {
			res, err := g.Generate(ctx, req.Prompt, req.Sampling, req.MaxNewTokens)
			items[i] = BatchItem{Result: res, Err: err}
			return nil
		})
	}
	_ = eg.Wait()

	var errs []error
	for i, it := range items {
		if it.Err != nil {
			errs = append(errs, fmt.Errorf("request %d: %w", i, it.Err))
		}
	}
	return items, errors.Join(errs...)
}
