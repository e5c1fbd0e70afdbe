package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/pkg/anthropic"
)

const (
	// primerMaxTokens bounds the throwaway cache-warming response.
	primerMaxTokens = 128
	// pollIntervalSmall and pollCapSmall tighten polling for submissions
	// that finish quickly.
	pollIntervalSmall = time.Second
	pollCapSmall      = 10 * time.Second
)

// ExtractAllBatches runs every batch through the Message Batches API in one
// submission. A primer request warms the prompt cache first so each batch
// item reads the shared document block instead of re-ingesting it. Results
// come back keyed by batch ID; a batch missing from the map failed.
func (e *Extractor) ExtractAllBatches(ctx context.Context, asm *Assembler, batches []model.Batch, examples map[string]map[string][]model.Example) (map[string]map[string]Answer, error) {
	if _, err := anthropic.PrimerRequest(ctx, e.client, anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: primerMaxTokens,
		System:    asm.System(),
		Messages:  []anthropic.Message{{Role: "user", Content: "Ack."}},
	}); err != nil {
		// The cache is an optimization; a failed primer is not fatal.
		e.log.Warn("primer request failed, proceeding uncached", zap.Error(err))
	}

	temp := e.cfg.Temperature
	items := make([]anthropic.BatchRequestItem, len(batches))
	for i, batch := range batches {
		items[i] = anthropic.BatchRequestItem{
			CustomID: batch.ID,
			Params: anthropic.MessageRequest{
				Model:       e.cfg.Model,
				MaxTokens:   e.cfg.MaxTokens,
				System:      asm.System(),
				Messages:    []anthropic.Message{{Role: "user", Content: asm.BatchPrompt(batch, examples[batch.ID])}},
				Temperature: &temp,
			},
		}
	}

	created, err := e.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return nil, eris.Wrap(err, "submit extraction batch")
	}
	e.log.Info("extraction batch submitted",
		zap.String("api_batch_id", created.ID),
		zap.Int("items", len(items)))

	var pollOpts []anthropic.PollOption
	if e.cfg.BatchPollTimeout > 0 {
		pollOpts = append(pollOpts, anthropic.WithPollTimeout(e.cfg.BatchPollTimeout))
	}
	if len(items) < 20 {
		pollOpts = append(pollOpts,
			anthropic.WithPollInterval(pollIntervalSmall),
			anthropic.WithPollCap(pollCapSmall))
	}
	finished, err := anthropic.PollBatch(ctx, e.client, created.ID, pollOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "poll extraction batch")
	}

	iter, err := e.client.GetBatchResults(ctx, finished.ID)
	if err != nil {
		return nil, eris.Wrap(err, "fetch extraction batch results")
	}
	collected, err := anthropic.CollectBatchResults(iter)
	if err != nil {
		return nil, eris.Wrap(err, "collect extraction batch results")
	}

	seqByID := make(map[string]int, len(batches))
	for _, batch := range batches {
		seqByID[batch.ID] = batch.Seq
	}
	for _, fail := range collected.Failures {
		e.log.Warn("batch item failed, fields will be unresolved",
			zap.Int("batch", seqByID[fail.CustomID]),
			zap.String("failure", fail.Type))
	}

	out := make(map[string]map[string]Answer, len(batches))
	for _, batch := range batches {
		resp, ok := collected.Succeeded[batch.ID]
		if !ok {
			continue
		}
		resp.Usage.LogCost(e.cfg.Model, "extract_batch")

		raw, parseErr := parseJSONObject(responseText(resp))
		if parseErr != nil {
			e.log.Warn("batch item response unparseable",
				zap.Int("batch", batch.Seq), zap.Error(parseErr))
			continue
		}
		// No repair round trip in batch mode: violations default directly.
		answers, violations := validate(raw, batch)
		if len(violations) > 0 {
			e.log.Warn("fields defaulted in batch mode",
				zap.Int("batch", batch.Seq),
				zap.Strings("violations", violations))
		}
		out[batch.ID] = answers
	}
	return out, nil
}
