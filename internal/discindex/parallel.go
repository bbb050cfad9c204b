package discindex

import (
	"runtime"

	"github.com/sourcegraph/conc/pool"
)

// LabeledInput names one disc for a multi-disc indexing pass.
type LabeledInput struct {
	Label string
	Path  string
}

// IndexResult pairs one LabeledInput with its indexing outcome. Err is set
// per input; a failed donor never poisons the other results.
type IndexResult struct {
	Label string
	Index *DiscIndex
	Songs map[int]SongMeta
	Err   error
}

// indexWorkers bounds the per-disc fan-out pool. A typical run indexes one
// base plus a handful of donors, so the pool mostly caps cold-parse storms
// on first contact with a large donor set.
func indexWorkers() int {
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}

// IndexMany indexes every input concurrently on a bounded worker pool,
// returning one result per input in input order. Cache lookups and cold
// parses both ride the pool; the cache's per-file last-writer-wins writes
// make concurrent saves safe.
func IndexMany(cache *CacheStore, inputs []LabeledInput) []IndexResult {
	results := make([]IndexResult, len(inputs))
	p := pool.New().WithMaxGoroutines(indexWorkers())
	for i, in := range inputs {
		i, in := i, in
		p.Go(func() {
			idx, songs, err := IndexDisc(cache, in.Path)
			results[i] = IndexResult{Label: in.Label, Index: idx, Songs: songs, Err: err}
		})
	}
	p.Wait()
	return results
}
