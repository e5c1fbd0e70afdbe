package extract

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/internal/retrieval"
	"github.com/sells-group/quotefill/internal/store"
)

func newFeedbackStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func listAll(t *testing.T, st store.Store) []model.Example {
	t.Helper()
	examples, err := st.ListExamples(context.Background(), store.ExampleFilter{Limit: 100})
	require.NoError(t, err)
	return examples
}

func TestRecordCorrection_CreatesExample(t *testing.T) {
	st := newFeedbackStore(t)
	ix := retrieval.NewIndex()
	rec := NewRecorder(st, nil, ix, DefaultFeedbackConfig())

	err := rec.RecordCorrection(context.Background(), model.FeedbackRecord{
		FieldName:          "voltage",
		OriginalPrediction: "110V",
		CorrectedValue:     "220V",
		Category:           "filling",
		Variant:            "goa",
		Context:            "machine requires 220V three phase",
	})
	require.NoError(t, err)

	examples := listAll(t, st)
	require.Len(t, examples, 1)
	assert.Equal(t, "220V", examples[0].ExpectedOut)
	assert.InDelta(t, correctionConfidence, examples[0].Confidence, 1e-9)
	assert.Equal(t, 1, ix.Len(), "new example lands in the index")
}

func TestRecordCorrection_DedupsByContext(t *testing.T) {
	st := newFeedbackStore(t)
	rec := NewRecorder(st, nil, nil, DefaultFeedbackConfig())
	ctx := context.Background()

	fb := model.FeedbackRecord{
		FieldName:      "voltage",
		CorrectedValue: "220V",
		Category:       "filling",
		Variant:        "goa",
		Context:        "machine requires 220V three phase",
	}
	require.NoError(t, rec.RecordCorrection(ctx, fb))

	// Same context, cosmetically reformatted.
	fb.Context = "  Machine   requires 220V\nthree phase "
	require.NoError(t, rec.RecordCorrection(ctx, fb))

	assert.Len(t, listAll(t, st), 1)
}

func TestRecordCorrection_DecaysSourceExample(t *testing.T) {
	st := newFeedbackStore(t)
	rec := NewRecorder(st, nil, nil, DefaultFeedbackConfig())
	ctx := context.Background()

	id, err := st.PutExample(ctx, model.Example{
		Category: "filling", Variant: "goa", FieldName: "voltage",
		InputContext: "old context", ExpectedOut: "110V", Confidence: 0.8,
	})
	require.NoError(t, err)

	require.NoError(t, rec.RecordCorrection(ctx, model.FeedbackRecord{
		FieldName: "voltage", CorrectedValue: "220V",
		Category: "filling", Variant: "goa",
		Context: "new context", ExampleID: id,
	}))

	ex, err := st.GetExample(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, ex.Confidence, 1e-9, "bad source example decays")
}

func TestRecordConfirmation_ReinforcesExamples(t *testing.T) {
	st := newFeedbackStore(t)
	rec := NewRecorder(st, nil, nil, DefaultFeedbackConfig())
	ctx := context.Background()

	id, err := st.PutExample(ctx, model.Example{
		Category: "filling", Variant: "goa", FieldName: "voltage",
		InputContext: "ctx", ExpectedOut: "220V", Confidence: 0.8,
	})
	require.NoError(t, err)
	require.NoError(t, st.RecordUsage(ctx, id))

	require.NoError(t, rec.RecordConfirmation(ctx, model.FeedbackRecord{
		FieldName: "voltage", Category: "filling", Variant: "goa",
	}, []string{id}))

	ex, err := st.GetExample(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ex.SuccessCount)
	assert.InDelta(t, 0.82, ex.Confidence, 1e-9)
}

func TestLearnFromResult_Thresholds(t *testing.T) {
	cases := []struct {
		name  string
		fr    model.FieldResult
		learn bool
	}{
		{"confident text", model.FieldResult{Name: "voltage", Value: "220V", Confidence: 0.8, Status: model.StatusOK, EvidenceBacked: true}, true},
		{"confident yes", model.FieldResult{Name: "hmi_7in", Value: "YES", Confidence: 0.9, Status: model.StatusOK, EvidenceBacked: true}, true},
		{"below floor", model.FieldResult{Name: "voltage", Value: "220V", Confidence: 0.6, Status: model.StatusOK, EvidenceBacked: true}, false},
		{"no checkbox", model.FieldResult{Name: "hmi_7in", Value: "NO", Confidence: 0.95, Status: model.StatusOK, EvidenceBacked: true}, false},
		{"short text", model.FieldResult{Name: "voltage", Value: "2", Confidence: 0.95, Status: model.StatusOK, EvidenceBacked: true}, false},
		{"not evidence backed", model.FieldResult{Name: "voltage", Value: "220V", Confidence: 0.95, Status: model.StatusOK, EvidenceBacked: false}, false},
		{"zero evidence status", model.FieldResult{Name: "hmi_7in", Value: "NO", Confidence: 0.95, Status: model.StatusZeroEvidence, EvidenceBacked: false}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newFeedbackStore(t)
			rec := NewRecorder(st, nil, nil, DefaultFeedbackConfig())

			rec.LearnFromResult(context.Background(), "filling", "goa", "source context text", tc.fr)

			examples := listAll(t, st)
			if tc.learn {
				require.Len(t, examples, 1)
				assert.Equal(t, tc.fr.Value, examples[0].ExpectedOut)
				assert.InDelta(t, tc.fr.Confidence, examples[0].Confidence, 1e-9)
			} else {
				assert.Empty(t, examples)
			}
		})
	}
}

func TestLearnFromResult_DisabledDoesNothing(t *testing.T) {
	st := newFeedbackStore(t)
	rec := NewRecorder(st, nil, nil, FeedbackConfig{AutoLearn: false})

	rec.LearnFromResult(context.Background(), "filling", "goa", "ctx",
		model.FieldResult{Name: "voltage", Value: "220V", Confidence: 0.9, Status: model.StatusOK, EvidenceBacked: true})

	assert.Empty(t, listAll(t, st))
}

func TestCurator_SweepDeprioritizesAndReinstates(t *testing.T) {
	st := newFeedbackStore(t)
	ctx := context.Background()

	put := func(field string, usage, success int64) string {
		id, err := st.PutExample(ctx, model.Example{
			Category: "filling", Variant: "goa", FieldName: field,
			InputContext: "ctx " + field, ExpectedOut: "v", Confidence: 0.8,
			UsageCount: usage, SuccessCount: success,
		})
		require.NoError(t, err)
		return id
	}

	failing := put("a", 10, 1)
	healthy := put("b", 10, 9)
	unproven := put("c", 2, 0)

	cur := NewCurator(st, CurationConfig{MinUsage: 5, MinSuccessRate: 0.4})
	changed, err := cur.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	ex, err := st.GetExample(ctx, failing)
	require.NoError(t, err)
	assert.True(t, ex.Deprioritized)

	for _, id := range []string{healthy, unproven} {
		ex, err := st.GetExample(ctx, id)
		require.NoError(t, err)
		assert.False(t, ex.Deprioritized)
	}

	// A recovered example comes back on the next sweep.
	for i := 0; i < 30; i++ {
		require.NoError(t, st.RecordUsage(ctx, failing))
		require.NoError(t, st.RecordFeedback(ctx, failing, true))
	}
	changed, err = cur.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	ex, err = st.GetExample(ctx, failing)
	require.NoError(t, err)
	assert.False(t, ex.Deprioritized)
}
