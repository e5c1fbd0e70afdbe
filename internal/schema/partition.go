package schema

import (
	"github.com/google/uuid"

	"github.com/sells-group/quotefill/internal/model"
)

// Partition defaults. Forty fields per request keeps the model accurate;
// larger batches measurably degrade recall on sparse documents.
const (
	DefaultMaxFields      = 40
	DefaultMaxPromptBytes = 24 * 1024
)

// PartitionConfig bounds the size of a single extraction batch.
type PartitionConfig struct {
	MaxFields      int `yaml:"max_fields" mapstructure:"max_fields"`
	MaxPromptBytes int `yaml:"max_prompt_bytes" mapstructure:"max_prompt_bytes"`
}

func (c PartitionConfig) withDefaults() PartitionConfig {
	if c.MaxFields <= 0 {
		c.MaxFields = DefaultMaxFields
	}
	if c.MaxPromptBytes <= 0 {
		c.MaxPromptBytes = DefaultMaxPromptBytes
	}
	return c
}

// Partition splits a schema into ordered batches. Every extractable field
// lands in exactly one batch, schema order is preserved, and fields sharing
// a subsection stay in the same batch unless the subsection alone exceeds
// the limits. Derived fields are skipped; post-processing computes them.
func Partition(s *model.Schema, cfg PartitionConfig) []model.Batch {
	cfg = cfg.withDefaults()

	fields := make([]model.FieldSpec, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.Derived {
			fields = append(fields, f)
		}
	}

	var batches []model.Batch
	var current []model.FieldSpec
	currentBytes := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		batches = append(batches, model.Batch{
			ID:     uuid.New().String(),
			Seq:    len(batches),
			Fields: current,
		})
		current = nil
		currentBytes = 0
	}

	for _, run := range subsectionRuns(fields) {
		runBytes := 0
		for _, f := range run {
			runBytes += fieldCost(f)
		}

		// Whole run fits in the current batch.
		if len(current)+len(run) <= cfg.MaxFields && currentBytes+runBytes <= cfg.MaxPromptBytes {
			current = append(current, run...)
			currentBytes += runBytes
			continue
		}

		// Whole run fits in a fresh batch.
		if len(run) <= cfg.MaxFields && runBytes <= cfg.MaxPromptBytes {
			flush()
			current = append(current, run...)
			currentBytes = runBytes
			continue
		}

		// Oversized run: force-split field by field, preserving order.
		for _, f := range run {
			cost := fieldCost(f)
			if len(current) >= cfg.MaxFields ||
				(len(current) > 0 && currentBytes+cost > cfg.MaxPromptBytes) {
				flush()
			}
			current = append(current, f)
			currentBytes += cost
		}
	}
	flush()

	return batches
}

// subsectionRuns splits the field list into maximal consecutive runs that
// share a section and subsection.
func subsectionRuns(fields []model.FieldSpec) [][]model.FieldSpec {
	var runs [][]model.FieldSpec
	start := 0
	for i := 1; i <= len(fields); i++ {
		if i == len(fields) ||
			fields[i].Section != fields[start].Section ||
			fields[i].Subsection != fields[start].Subsection {
			runs = append(runs, fields[start:i])
			start = i
		}
	}
	return runs
}

// fieldCost estimates the prompt bytes a field spec contributes.
func fieldCost(f model.FieldSpec) int {
	n := len(f.Name) + len(f.Description) + len(f.Placeholder) + 32
	for _, o := range f.Options {
		n += len(o) + 4
	}
	for _, s := range f.Synonyms {
		n += len(s) + 4
	}
	return n
}
