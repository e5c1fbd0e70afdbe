package extract

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/internal/retrieval"
	"github.com/sells-group/quotefill/internal/store"
)

// Example-base growth thresholds. Corrections come from a human and start
// higher than auto-learned examples.
const (
	autoLearnConfidence  = 0.75
	correctionConfidence = 0.85
	minLearnedTextLen    = 3
)

// Indexer receives newly stored examples. retrieval.Index satisfies it.
type Indexer interface {
	Add(ex model.Example)
}

// FeedbackConfig tunes how the example base grows and shrinks.
type FeedbackConfig struct {
	// AutoLearn persists confident evidence-backed extractions as examples.
	AutoLearn bool `yaml:"auto_learn" mapstructure:"auto_learn"`
	// MinAutoLearnConfidence overrides the default 0.75 floor.
	MinAutoLearnConfidence float64 `yaml:"min_auto_learn_confidence" mapstructure:"min_auto_learn_confidence"`
}

// DefaultFeedbackConfig returns the standard feedback settings.
func DefaultFeedbackConfig() FeedbackConfig {
	return FeedbackConfig{AutoLearn: true, MinAutoLearnConfidence: autoLearnConfidence}
}

// Recorder folds user feedback and confident extractions back into the
// example base.
type Recorder struct {
	store    store.Store
	embedder retrieval.Embedder
	index    Indexer
	cfg      FeedbackConfig
	log      *zap.Logger
}

// NewRecorder builds a Recorder. embedder and index may be nil.
func NewRecorder(st store.Store, embedder retrieval.Embedder, index Indexer, cfg FeedbackConfig) *Recorder {
	if cfg.MinAutoLearnConfidence <= 0 {
		cfg.MinAutoLearnConfidence = autoLearnConfidence
	}
	return &Recorder{
		store:    st,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		log:      zap.L().Named("feedback"),
	}
}

// RecordCorrection logs a correction and promotes it to a new example. A
// correction for a context the base already covers updates nothing beyond
// the log; the context hash is the dedup key.
func (r *Recorder) RecordCorrection(ctx context.Context, fb model.FeedbackRecord) error {
	fb.Type = model.FeedbackCorrection
	if err := r.store.InsertFeedback(ctx, fb); err != nil {
		return eris.Wrap(err, "record correction")
	}
	if fb.ExampleID != "" {
		if err := r.store.RecordFeedback(ctx, fb.ExampleID, false); err != nil {
			r.log.Warn("counter update failed", zap.String("example_id", fb.ExampleID), zap.Error(err))
		}
	}
	if fb.CorrectedValue == "" || fb.Context == "" {
		return nil
	}
	return r.addExample(ctx, model.Example{
		Category:     fb.Category,
		Variant:      fb.Variant,
		FieldName:    fb.FieldName,
		InputContext: fb.Context,
		ExpectedOut:  fb.CorrectedValue,
		Confidence:   correctionConfidence,
	})
}

// RecordConfirmation logs positive feedback and reinforces the examples
// that produced the prediction.
func (r *Recorder) RecordConfirmation(ctx context.Context, fb model.FeedbackRecord, exampleIDs []string) error {
	fb.Type = model.FeedbackConfirmation
	if err := r.store.InsertFeedback(ctx, fb); err != nil {
		return eris.Wrap(err, "record confirmation")
	}
	for _, id := range exampleIDs {
		if err := r.store.RecordFeedback(ctx, id, true); err != nil {
			r.log.Warn("counter update failed", zap.String("example_id", id), zap.Error(err))
		}
	}
	return nil
}

// RecordRejection logs a rejection and decays the examples involved.
func (r *Recorder) RecordRejection(ctx context.Context, fb model.FeedbackRecord, exampleIDs []string) error {
	fb.Type = model.FeedbackRejection
	if err := r.store.InsertFeedback(ctx, fb); err != nil {
		return eris.Wrap(err, "record rejection")
	}
	for _, id := range exampleIDs {
		if err := r.store.RecordFeedback(ctx, id, false); err != nil {
			r.log.Warn("counter update failed", zap.String("example_id", id), zap.Error(err))
		}
	}
	return nil
}

// LearnFromResult persists a confident, evidence-backed extraction as a new
// example. Only YES checkboxes and non-trivial text values qualify; a NO is
// the default answer and teaches nothing.
func (r *Recorder) LearnFromResult(ctx context.Context, category, variant, contextText string, fr model.FieldResult) {
	if !r.cfg.AutoLearn || contextText == "" {
		return
	}
	if fr.Status != model.StatusOK || !fr.EvidenceBacked {
		return
	}
	if fr.Confidence < r.cfg.MinAutoLearnConfidence {
		return
	}
	if fr.Value == model.CheckboxNo || len(strings.TrimSpace(fr.Value)) < minLearnedTextLen {
		return
	}

	err := r.addExample(ctx, model.Example{
		Category:     category,
		Variant:      variant,
		FieldName:    fr.Name,
		InputContext: contextText,
		ExpectedOut:  fr.Value,
		Confidence:   fr.Confidence,
	})
	if err != nil {
		r.log.Warn("auto-learn failed", zap.String("field", fr.Name), zap.Error(err))
	}
}

// AddExample seeds the base with a manually curated example. A zero
// confidence gets the correction default.
func (r *Recorder) AddExample(ctx context.Context, ex model.Example) error {
	if ex.Confidence <= 0 {
		ex.Confidence = correctionConfidence
	}
	return r.addExample(ctx, ex)
}

// addExample stores an example unless the base already has one for the same
// field and context.
func (r *Recorder) addExample(ctx context.Context, ex model.Example) error {
	hash := model.HashContext(ex.InputContext)
	existing, err := r.store.FindExampleByContext(ctx, ex.Category, ex.Variant, ex.FieldName, hash)
	if err != nil {
		return eris.Wrap(err, "dedup lookup")
	}
	if existing != nil {
		r.log.Debug("example already known, skipping",
			zap.String("field", ex.FieldName),
			zap.String("context_hash", hash))
		return nil
	}

	if r.embedder != nil {
		vec, err := r.embedder.Embed(ctx, ex.InputContext)
		if err != nil {
			r.log.Warn("embedding new example failed, storing without vector",
				zap.String("field", ex.FieldName), zap.Error(err))
		} else {
			ex.Embedding = vec
		}
	}

	id, err := r.store.PutExample(ctx, ex)
	if err != nil {
		return eris.Wrap(err, "store example")
	}
	ex.ID = id
	ex.ContextHash = hash
	if r.index != nil {
		r.index.Add(ex)
	}
	r.log.Info("example added",
		zap.String("field", ex.FieldName),
		zap.String("example_id", id),
		zap.Float64("confidence", ex.Confidence))
	return nil
}

// CurationConfig sets the quality floor for retrievable examples.
type CurationConfig struct {
	// MinUsage is how many retrievals an example gets before its success
	// rate is judged.
	MinUsage int64 `yaml:"min_usage" mapstructure:"min_usage"`
	// MinSuccessRate is the floor below which an example is deprioritized.
	MinSuccessRate float64 `yaml:"min_success_rate" mapstructure:"min_success_rate"`
}

// DefaultCurationConfig returns the standard curation thresholds.
func DefaultCurationConfig() CurationConfig {
	return CurationConfig{MinUsage: 5, MinSuccessRate: 0.4}
}

// Curator sweeps the example base and deprioritizes examples whose track
// record has gone bad. Deprioritized examples stay stored for audit but
// never surface in retrieval.
type Curator struct {
	store store.Store
	cfg   CurationConfig
	log   *zap.Logger
}

// NewCurator builds a Curator.
func NewCurator(st store.Store, cfg CurationConfig) *Curator {
	if cfg.MinUsage <= 0 {
		cfg.MinUsage = DefaultCurationConfig().MinUsage
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = DefaultCurationConfig().MinSuccessRate
	}
	return &Curator{store: st, cfg: cfg, log: zap.L().Named("curate")}
}

// Sweep deprioritizes failing examples and reinstates recovered ones.
// Returns how many examples changed state.
func (c *Curator) Sweep(ctx context.Context) (int, error) {
	changed := 0
	err := c.store.ScanExamples(ctx, func(ex model.Example) error {
		if ex.UsageCount < c.cfg.MinUsage {
			return nil
		}
		failing := ex.SuccessRate() < c.cfg.MinSuccessRate
		if failing == ex.Deprioritized {
			return nil
		}
		if err := c.store.SetDeprioritized(ctx, ex.ID, failing); err != nil {
			return err
		}
		changed++
		c.log.Info("example curation state changed",
			zap.String("example_id", ex.ID),
			zap.String("field", ex.FieldName),
			zap.Bool("deprioritized", failing),
			zap.Float64("success_rate", ex.SuccessRate()))
		return nil
	})
	if err != nil {
		return changed, eris.Wrap(err, "curation sweep")
	}
	return changed, nil
}
