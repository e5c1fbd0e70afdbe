package store

import (
	"context"

	"github.com/sells-group/quotefill/internal/model"
)

// ExampleFilter specifies criteria for listing examples.
type ExampleFilter struct {
	Category  string `json:"category,omitempty"`
	Variant   string `json:"variant,omitempty"`
	FieldName string `json:"field_name,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// FieldStats is the per-field slice of the quality report.
type FieldStats struct {
	FieldName     string  `json:"field_name"`
	Count         int64   `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
	SuccessRate   float64 `json:"success_rate"`
}

// QualityStats summarizes the health of the example base for monitoring.
type QualityStats struct {
	TotalExamples int64        `json:"total_examples"`
	Active        int64        `json:"active_examples"`
	Deprioritized int64        `json:"deprioritized_examples"`
	AvgConfidence float64      `json:"avg_confidence"`
	SuccessRate   float64      `json:"success_rate"`
	HighQuality   int64        `json:"high_quality"`   // confidence >= 0.9
	MediumQuality int64        `json:"medium_quality"` // 0.7 <= confidence < 0.9
	LowQuality    int64        `json:"low_quality"`    // confidence < 0.7
	PerField      []FieldStats `json:"per_field"`
}

// Store defines the persistence interface for the example base and the
// feedback log.
type Store interface {
	// Examples
	PutExample(ctx context.Context, ex model.Example) (string, error)
	GetExample(ctx context.Context, id string) (*model.Example, error)
	// GetByField returns active examples for (category, variant, field)
	// ranked by quality, the mean of confidence and success rate, then
	// recency. Unused examples count a neutral 0.5 success rate.
	GetByField(ctx context.Context, category, variant, field string, limit int) ([]model.Example, error)
	ListExamples(ctx context.Context, filter ExampleFilter) ([]model.Example, error)
	// FindExampleByContext looks up an existing example with the same
	// (category, variant, field, context-hash), deprioritized or not.
	FindExampleByContext(ctx context.Context, category, variant, field, contextHash string) (*model.Example, error)

	// Counters. Unknown ids are logged no-ops, never errors: these are
	// advisory quality signals, not business writes.
	RecordUsage(ctx context.Context, id string) error
	RecordFeedback(ctx context.Context, id string, success bool) error

	// Feedback log
	InsertFeedback(ctx context.Context, fb model.FeedbackRecord) error

	// Curation
	ScanExamples(ctx context.Context, fn func(model.Example) error) error
	SetDeprioritized(ctx context.Context, id string, deprioritized bool) error

	// Monitoring
	Stats(ctx context.Context) (*QualityStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// feedbackMaxAttempts bounds the optimistic-version retry loop on
// RecordFeedback. Contention on a single example is rare; three attempts is
// plenty.
const feedbackMaxAttempts = 3

// Confidence drift applied by feedback. Failures decay faster than
// successes reinforce so a bad example loses rank quickly.
const (
	confidenceGain  = 0.02
	confidenceDecay = 0.05
)

// adjustConfidence applies the feedback drift to a stored confidence score,
// clamped to [0, 1].
func adjustConfidence(confidence float64, success bool) float64 {
	if success {
		confidence += confidenceGain
	} else {
		confidence -= confidenceDecay
	}
	if confidence > 1 {
		return 1
	}
	if confidence < 0 {
		return 0
	}
	return confidence
}
