package window

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// CorpusOptions configures a sharded corpus build.
type CorpusOptions struct {
	Options

	// Workers bounds the number of shards processed concurrently.
	// Zero means GOMAXPROCS.
	Workers int
	// Progress, when set, is called once per processed sample. It may be
	// called from several goroutines.
	Progress func(n int)
}

func (o CorpusOptions) workers(samples int) int {
	w := o.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return max(min(w, samples), 1)
}

// BuildCorpus windows every sample of corpus. Samples are split into
// contiguous shards, one per worker, and the per-shard results are
// concatenated in corpus order, so the output matches a sequential build.
func BuildCorpus(ctx context.Context, corpus [][]int, opts CorpusOptions) ([]Example, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(corpus) == 0 {
		return nil, nil
	}

	workers := opts.workers(len(corpus))
	shardSize := (len(corpus) + workers - 1) / workers
	shards := make([][]Example, workers)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for w := range workers {
		lo := w * shardSize
		hi := min(lo+shardSize, len(corpus))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			var out []Example
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				var err error
				out, err = buildSample(corpus[i], opts.Options, out)
				if err != nil {
					return fmt.Errorf("sample %d: %w", i, err)
				}
				if opts.Progress != nil {
					opts.Progress(1)
				}
			}
			shards[w] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, s := range shards {
		total += len(s)
	}
	examples := make([]Example, 0, total)
	for _, s := range shards {
		examples = append(examples, s...)
	}
	return examples, nil
}

// CountCorpus returns the number of examples BuildCorpus would produce.
func CountCorpus(corpus [][]int, opts Options) int {
	n := 0
	for _, s := range corpus {
		n += Count(s, opts)
	}
	return n
}
