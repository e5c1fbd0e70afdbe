package retrieval

import (
	"context"
	"sync"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/internal/store"
)

type indexKey struct {
	category string
	variant  string
	field    string
}

// Index is an in-memory snapshot of the example base keyed by
// (category, variant, field), used for brute-force similarity scans.
// Example counts per field are small so a linear scan is fine.
type Index struct {
	mu      sync.RWMutex
	entries map[indexKey][]model.Example
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{entries: make(map[indexKey][]model.Example)}
}

// Warm loads every example from the store into the index, replacing any
// previous contents.
func (ix *Index) Warm(ctx context.Context, st store.Store) error {
	fresh := make(map[indexKey][]model.Example)
	err := st.ScanExamples(ctx, func(ex model.Example) error {
		k := indexKey{ex.Category, ex.Variant, ex.FieldName}
		fresh[k] = append(fresh[k], ex)
		return nil
	})
	if err != nil {
		return err
	}

	ix.mu.Lock()
	ix.entries = fresh
	ix.mu.Unlock()
	return nil
}

// Add appends an example to the index without touching the store.
func (ix *Index) Add(ex model.Example) {
	k := indexKey{ex.Category, ex.Variant, ex.FieldName}
	ix.mu.Lock()
	ix.entries[k] = append(ix.entries[k], ex)
	ix.mu.Unlock()
}

// Candidates returns a copy of the active examples for a field. Deprioritized
// entries are filtered out at read time so curation takes effect on the next
// Warm without blocking retrieval in between.
func (ix *Index) Candidates(category, variant, field string) []model.Example {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	all := ix.entries[indexKey{category, variant, field}]
	out := make([]model.Example, 0, len(all))
	for _, ex := range all {
		if !ex.Deprioritized {
			out = append(out, ex)
		}
	}
	return out
}

// Len reports the total number of indexed examples.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n := 0
	for _, v := range ix.entries {
		n += len(v)
	}
	return n
}
