package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Example is a stored extraction example used for few-shot prompting.
// Examples are never hard-deleted; curation only deprioritizes them.
type Example struct {
	ID            string    `json:"id"`
	Category      string    `json:"category"`
	Variant       string    `json:"variant"`
	FieldName     string    `json:"field_name"`
	InputContext  string    `json:"input_context"`
	ExpectedOut   string    `json:"expected_output"`
	Confidence    float64   `json:"confidence_score"`
	UsageCount    int64     `json:"usage_count"`
	SuccessCount  int64     `json:"success_count"`
	Deprioritized bool      `json:"deprioritized"`
	ContextHash   string    `json:"context_hash"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Version       int64     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	LastUsedAt    time.Time `json:"last_used_at,omitempty"`
}

// SuccessRate returns success_count/usage_count, treating 0/0 as a neutral 0.5.
func (e Example) SuccessRate() float64 {
	if e.UsageCount == 0 {
		return 0.5
	}
	return float64(e.SuccessCount) / float64(e.UsageCount)
}

// Quality combines stored confidence with observed success rate for ranking.
func (e Example) Quality() float64 {
	return (e.Confidence + e.SuccessRate()) / 2
}

// HashContext produces the dedup key for an example's input context.
// Whitespace runs collapse so cosmetic reformatting does not defeat dedup.
func HashContext(context string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(context)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:16])
}

// FeedbackType classifies user feedback on an extracted value.
type FeedbackType string

const (
	FeedbackCorrection   FeedbackType = "correction"
	FeedbackConfirmation FeedbackType = "confirmation"
	FeedbackRejection    FeedbackType = "rejection"
)

// FeedbackRecord captures a single piece of user feedback on a prediction.
type FeedbackRecord struct {
	ID                 string       `json:"id"`
	FieldName          string       `json:"field_name"`
	OriginalPrediction string       `json:"original_prediction"`
	CorrectedValue     string       `json:"corrected_value"`
	Type               FeedbackType `json:"feedback_type"`
	Category           string       `json:"category"`
	Variant            string       `json:"variant"`
	Context            string       `json:"context,omitempty"`
	// ExampleID references the example that produced the original
	// prediction, when known.
	ExampleID string    `json:"example_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
