package model

import "time"

// FieldStatus describes how a field's final value was settled.
type FieldStatus string

const (
	// StatusOK means the value was extracted and evidence-backed.
	StatusOK FieldStatus = "ok"
	// StatusLowConfidence means the model's answer violated the schema and
	// was defaulted after a failed repair attempt.
	StatusLowConfidence FieldStatus = "low_confidence"
	// StatusZeroEvidence means the value was suppressed because no support
	// was found in the source material.
	StatusZeroEvidence FieldStatus = "zero_evidence"
	// StatusUnresolved means the field's batch failed after retries and the
	// field was never extracted.
	StatusUnresolved FieldStatus = "unresolved"
)

// FieldResult is the final outcome for a single field.
type FieldResult struct {
	Name           string      `json:"name"`
	Value          string      `json:"value"`
	Confidence     float64     `json:"confidence"`
	Status         FieldStatus `json:"status"`
	EvidenceBacked bool        `json:"evidence_backed"`
	BatchID        string      `json:"batch_id"`
}

// Result is the outcome of one extraction run. Fields preserves schema order.
type Result struct {
	RunID       string        `json:"run_id"`
	Category    string        `json:"category"`
	Variant     string        `json:"variant"`
	Fields      []FieldResult `json:"fields"`
	BatchCount  int           `json:"batch_count"`
	FailedBatch int           `json:"failed_batches"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// Values flattens the result into a field→value map.
func (r *Result) Values() map[string]string {
	m := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		m[f.Name] = f.Value
	}
	return m
}

// NeedsReview returns the fields a human must look at before the result
// feeds any downstream document: unresolved and zero-evidence fields first,
// then low-confidence defaults.
func (r *Result) NeedsReview() []FieldResult {
	var out []FieldResult
	for _, f := range r.Fields {
		switch f.Status {
		case StatusUnresolved, StatusZeroEvidence, StatusLowConfidence:
			out = append(out, f)
		}
	}
	return out
}
