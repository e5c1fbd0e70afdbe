package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/internal/store"
)

// Config tunes example selection.
type Config struct {
	// K is how many examples to return per field.
	K int `yaml:"k" mapstructure:"k"`
	// MinSimilarity drops candidates whose cosine similarity to the query
	// context falls below this value.
	MinSimilarity float64 `yaml:"min_similarity" mapstructure:"min_similarity"`
	// SimWeight and QualityWeight blend similarity with the stored quality
	// score (confidence plus success rate).
	SimWeight     float64 `yaml:"sim_weight" mapstructure:"sim_weight"`
	QualityWeight float64 `yaml:"quality_weight" mapstructure:"quality_weight"`
}

// DefaultConfig returns the standard retrieval tuning.
func DefaultConfig() Config {
	return Config{
		K:             3,
		MinSimilarity: 0.3,
		SimWeight:     0.7,
		QualityWeight: 0.3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.K <= 0 {
		c.K = d.K
	}
	if c.SimWeight <= 0 && c.QualityWeight <= 0 {
		c.SimWeight = d.SimWeight
		c.QualityWeight = d.QualityWeight
	}
	return c
}

// Retriever picks the best few-shot examples for a field. Retrieval never
// fails an extraction: on embedding trouble it degrades to the store's
// quality ranking, and on store trouble it returns nothing.
type Retriever struct {
	store    store.Store
	embedder Embedder
	index    *Index
	cfg      Config
	log      *zap.Logger
}

// NewRetriever builds a Retriever. embedder may be nil, which disables the
// similarity path entirely.
func NewRetriever(st store.Store, embedder Embedder, index *Index, cfg Config) *Retriever {
	return &Retriever{
		store:    st,
		embedder: embedder,
		index:    index,
		cfg:      cfg.withDefaults(),
		log:      zap.L().Named("retrieval"),
	}
}

// Retrieve returns up to K examples for the field, best first, and records a
// usage hit for each one returned.
func (r *Retriever) Retrieve(ctx context.Context, category, variant, field, contextText string) []model.Example {
	picked := r.pick(ctx, category, variant, field, contextText)
	for _, ex := range picked {
		if err := r.store.RecordUsage(ctx, ex.ID); err != nil {
			r.log.Warn("record usage failed",
				zap.String("example_id", ex.ID), zap.Error(err))
		}
	}
	return picked
}

func (r *Retriever) pick(ctx context.Context, category, variant, field, contextText string) []model.Example {
	query := r.queryEmbedding(ctx, contextText)
	if query == nil {
		return r.fallback(ctx, category, variant, field)
	}

	type scored struct {
		ex    model.Example
		score float64
	}
	var candidates []scored
	for _, ex := range r.index.Candidates(category, variant, field) {
		sim := Cosine(query, ex.Embedding)
		if sim < r.cfg.MinSimilarity {
			continue
		}
		candidates = append(candidates, scored{
			ex:    ex,
			score: r.cfg.SimWeight*sim + r.cfg.QualityWeight*ex.Quality(),
		})
	}
	if len(candidates) == 0 {
		return r.fallback(ctx, category, variant, field)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > r.cfg.K {
		candidates = candidates[:r.cfg.K]
	}
	out := make([]model.Example, len(candidates))
	for i, c := range candidates {
		out[i] = c.ex
	}
	return out
}

// queryEmbedding embeds the source context, returning nil when similarity
// scoring is unavailable.
func (r *Retriever) queryEmbedding(ctx context.Context, contextText string) []float32 {
	if r.embedder == nil || contextText == "" {
		return nil
	}
	vec, err := r.embedder.Embed(ctx, contextText)
	if err != nil {
		r.log.Warn("embedding failed, falling back to quality ranking", zap.Error(err))
		return nil
	}
	return vec
}

// fallback serves the store's confidence/success-rate ranking when the
// similarity path is unavailable.
func (r *Retriever) fallback(ctx context.Context, category, variant, field string) []model.Example {
	examples, err := r.store.GetByField(ctx, category, variant, field, r.cfg.K)
	if err != nil {
		r.log.Warn("example lookup failed, extracting without examples",
			zap.String("field", field), zap.Error(err))
		return nil
	}
	return examples
}
