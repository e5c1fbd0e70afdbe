package extract

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/internal/schema"
)

// maxBatchConcurrency bounds concurrent model calls per run.
const maxBatchConcurrency = 4

// ExampleSource supplies few-shot examples per field. retrieval.Retriever
// satisfies it; nil disables few-shot prompting.
type ExampleSource interface {
	Retrieve(ctx context.Context, category, variant, field, contextText string) []model.Example
}

// Learner persists confident extractions back into the example base.
// feedback's Recorder satisfies it; nil disables auto-learning.
type Learner interface {
	LearnFromResult(ctx context.Context, category, variant, contextText string, fr model.FieldResult)
}

// EngineConfig tunes a run end to end.
type EngineConfig struct {
	Concurrency int                    `yaml:"concurrency" mapstructure:"concurrency"`
	Partition   schema.PartitionConfig `yaml:"partition" mapstructure:"partition"`
	Verify      VerifyConfig           `yaml:"verify" mapstructure:"verify"`
	// RetrievalContextBytes caps the document slice used as the similarity
	// query for example retrieval.
	RetrievalContextBytes int `yaml:"retrieval_context_bytes" mapstructure:"retrieval_context_bytes"`
	// UseBatchAPI routes large runs through the Message Batches API instead
	// of direct concurrent calls. Cheaper, but no repair round trip.
	UseBatchAPI bool `yaml:"use_batch_api" mapstructure:"use_batch_api"`
	// BatchAPIMinBatches is the run size below which direct calls are used
	// even when UseBatchAPI is on.
	BatchAPIMinBatches int `yaml:"batch_api_min_batches" mapstructure:"batch_api_min_batches"`
}

// DefaultEngineConfig returns the standard run settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Concurrency:           maxBatchConcurrency,
		Verify:                DefaultVerifyConfig(),
		RetrievalContextBytes: 2048,
	}
}

// Engine drives a full extraction run: partition the schema, extract each
// batch concurrently, verify against the source, apply rules, then feed
// confident results back to the learner.
type Engine struct {
	extractor *Extractor
	examples  ExampleSource
	learner   Learner
	rules     []Rule
	cfg       EngineConfig
	log       *zap.Logger
}

// NewEngine builds an Engine. examples and learner may be nil.
func NewEngine(extractor *Extractor, examples ExampleSource, learner Learner, cfg EngineConfig) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = maxBatchConcurrency
	}
	if cfg.RetrievalContextBytes <= 0 {
		cfg.RetrievalContextBytes = DefaultEngineConfig().RetrievalContextBytes
	}
	if cfg.BatchAPIMinBatches <= 0 {
		cfg.BatchAPIMinBatches = 2
	}
	return &Engine{
		extractor: extractor,
		examples:  examples,
		learner:   learner,
		rules:     DefaultRules(),
		cfg:       cfg,
		log:       zap.L().Named("engine"),
	}
}

// Run extracts every schema field from the document. A batch that fails
// after retries marks its fields unresolved; the run itself only errors on
// context cancellation.
func (e *Engine) Run(ctx context.Context, category string, s *model.Schema, doc model.SourceDocument) (*model.Result, error) {
	started := time.Now()
	runID := uuid.New().String()
	batches := schema.Partition(s, e.cfg.Partition)
	asm := NewAssembler(doc)
	verifier := NewVerifier(doc, e.cfg.Verify)
	queryCtx := doc.ContextWindow(e.cfg.RetrievalContextBytes)

	e.log.Info("extraction run started",
		zap.String("run_id", runID),
		zap.String("category", category),
		zap.String("variant", s.Variant),
		zap.Int("fields", s.Len()),
		zap.Int("batches", len(batches)))

	var outcomes []batchOutcome
	if e.cfg.UseBatchAPI && len(batches) >= e.cfg.BatchAPIMinBatches {
		outcomes = e.runViaBatchAPI(ctx, runID, category, s.Variant, asm, batches, queryCtx)
	} else {
		outcomes = e.runDirect(ctx, runID, category, s.Variant, asm, batches, queryCtx)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Assemble per-field results in schema order.
	results := make(map[string]*model.FieldResult, s.Len())
	failedBatches := 0
	for _, out := range outcomes {
		if out.failed {
			failedBatches++
		}
		for _, f := range out.batch.Fields {
			fr := &model.FieldResult{Name: f.Name, BatchID: out.batch.ID}
			if out.failed {
				fr.Value = f.DefaultValue()
				fr.Status = model.StatusUnresolved
				results[f.Name] = fr
				continue
			}

			ans := out.answers[f.Name]
			verdict := verifier.Verify(f, ans.Value)
			fr.Value = verdict.Value
			fr.Confidence = ans.Confidence
			fr.EvidenceBacked = verdict.EvidenceBacked
			switch {
			case ans.Defaulted:
				fr.Status = model.StatusLowConfidence
				fr.Confidence = 0
			case verdict.ZeroEvidence:
				fr.Status = model.StatusZeroEvidence
			default:
				fr.Status = model.StatusOK
			}
			results[f.Name] = fr
		}
	}

	// Derived fields never reach the model; the rule set computes them.
	for _, f := range s.Fields {
		if f.Derived {
			results[f.Name] = &model.FieldResult{Name: f.Name, Status: model.StatusOK}
		}
	}

	ApplyRules(e.rules, s, results)

	res := &model.Result{
		RunID:       runID,
		Category:    category,
		Variant:     s.Variant,
		BatchCount:  len(batches),
		FailedBatch: failedBatches,
		StartedAt:   started,
		Duration:    time.Since(started),
	}
	for _, f := range s.Fields {
		res.Fields = append(res.Fields, *results[f.Name])
	}

	if e.learner != nil {
		for _, fr := range res.Fields {
			e.learner.LearnFromResult(ctx, category, s.Variant, queryCtx, fr)
		}
	}

	e.log.Info("extraction run finished",
		zap.String("run_id", runID),
		zap.Int("failed_batches", failedBatches),
		zap.Int("needs_review", len(res.NeedsReview())),
		zap.Duration("duration", res.Duration))
	return res, nil
}

type batchOutcome struct {
	batch   model.Batch
	answers map[string]Answer
	failed  bool
}

// runDirect extracts batches with bounded-concurrency direct calls.
func (e *Engine) runDirect(ctx context.Context, runID, category, variant string, asm *Assembler, batches []model.Batch, queryCtx string) []batchOutcome {
	outcomes := make([]batchOutcome, len(batches))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			examples := e.retrieveExamples(gCtx, category, variant, batch, queryCtx)
			answers, err := e.extractor.ExtractBatch(gCtx, asm, batch, examples)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// The batch is lost but the run continues.
				e.log.Warn("batch failed, marking fields unresolved",
					zap.String("run_id", runID),
					zap.Int("batch", batch.Seq),
					zap.Error(err))
				outcomes[i] = batchOutcome{batch: batch, failed: true}
				return nil
			}
			outcomes[i] = batchOutcome{batch: batch, answers: answers}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// runViaBatchAPI submits the whole run as one Message Batches job.
func (e *Engine) runViaBatchAPI(ctx context.Context, runID, category, variant string, asm *Assembler, batches []model.Batch, queryCtx string) []batchOutcome {
	examplesByBatch := make(map[string]map[string][]model.Example, len(batches))
	for _, batch := range batches {
		if examples := e.retrieveExamples(ctx, category, variant, batch, queryCtx); examples != nil {
			examplesByBatch[batch.ID] = examples
		}
	}

	answersByBatch, err := e.extractor.ExtractAllBatches(ctx, asm, batches, examplesByBatch)
	if err != nil {
		e.log.Warn("batch api run failed, marking all fields unresolved",
			zap.String("run_id", runID), zap.Error(err))
	}

	outcomes := make([]batchOutcome, len(batches))
	for i, batch := range batches {
		answers, ok := answersByBatch[batch.ID]
		if !ok {
			outcomes[i] = batchOutcome{batch: batch, failed: true}
			continue
		}
		outcomes[i] = batchOutcome{batch: batch, answers: answers}
	}
	return outcomes
}

func (e *Engine) retrieveExamples(ctx context.Context, category, variant string, batch model.Batch, queryCtx string) map[string][]model.Example {
	if e.examples == nil {
		return nil
	}
	out := make(map[string][]model.Example, len(batch.Fields))
	for _, f := range batch.Fields {
		if exs := e.examples.Retrieve(ctx, category, variant, f.Name, queryCtx); len(exs) > 0 {
			out[f.Name] = exs
		}
	}
	return out
}
