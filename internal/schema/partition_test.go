package schema

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quotefill/internal/model"
)

func makeFields(n int, section, subsection string) []model.FieldSpec {
	fields := make([]model.FieldSpec, n)
	for i := range fields {
		fields[i] = model.FieldSpec{
			Name:       fmt.Sprintf("%s_%s_%d", section, subsection, i),
			Section:    section,
			Subsection: subsection,
			Type:       model.FieldText,
		}
	}
	return fields
}

func allNames(batches []model.Batch) []string {
	var names []string
	for _, b := range batches {
		names = append(names, b.FieldNames()...)
	}
	return names
}

func TestPartition_SmallSchemaSingleBatch(t *testing.T) {
	t.Parallel()

	s := model.NewSchema("goa", makeFields(10, "filling", "performance"))
	batches := Partition(s, PartitionConfig{})

	require.Len(t, batches, 1)
	assert.Equal(t, 0, batches[0].Seq)
	assert.Len(t, batches[0].Fields, 10)
}

func TestPartition_LargeSchemaCoversEveryFieldOnce(t *testing.T) {
	t.Parallel()

	// 650 fields across many subsections, capped at 40 per batch.
	var fields []model.FieldSpec
	for sub := 0; sub < 65; sub++ {
		fields = append(fields, makeFields(10, "machine", fmt.Sprintf("sub%02d", sub))...)
	}
	s := model.NewSchema("goa", fields)

	batches := Partition(s, PartitionConfig{MaxFields: 40, MaxPromptBytes: 1 << 30})

	require.Len(t, batches, 17)
	for i, b := range batches {
		assert.Equal(t, i, b.Seq)
		assert.LessOrEqual(t, len(b.Fields), 40)
		assert.NotEmpty(t, b.ID)
	}

	var want []string
	for _, f := range fields {
		want = append(want, f.Name)
	}
	assert.Equal(t, want, allNames(batches), "order preserved, no field dropped or duplicated")
}

func TestPartition_SubsectionStaysTogether(t *testing.T) {
	t.Parallel()

	fields := append(makeFields(6, "filling", "speed"), makeFields(6, "filling", "power")...)
	s := model.NewSchema("goa", fields)

	batches := Partition(s, PartitionConfig{MaxFields: 8, MaxPromptBytes: 1 << 30})

	// Neither subsection fits alongside the other, so each gets its own batch
	// rather than splitting "power" across two.
	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Fields, 6)
	assert.Len(t, batches[1].Fields, 6)
	for _, f := range batches[0].Fields {
		assert.Equal(t, "speed", f.Subsection)
	}
	for _, f := range batches[1].Fields {
		assert.Equal(t, "power", f.Subsection)
	}
}

func TestPartition_OversizedSubsectionForceSplits(t *testing.T) {
	t.Parallel()

	s := model.NewSchema("goa", makeFields(25, "filling", "huge"))
	batches := Partition(s, PartitionConfig{MaxFields: 10, MaxPromptBytes: 1 << 30})

	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Fields, 10)
	assert.Len(t, batches[1].Fields, 10)
	assert.Len(t, batches[2].Fields, 5)

	var want []string
	for _, f := range s.Fields {
		want = append(want, f.Name)
	}
	assert.Equal(t, want, allNames(batches))
}

func TestPartition_ByteBudgetSplits(t *testing.T) {
	t.Parallel()

	fields := makeFields(4, "filling", "a")
	for i := range fields {
		fields[i].Description = string(make([]byte, 500))
	}
	s := model.NewSchema("goa", fields)

	// Each field costs ~550 bytes; a 1200-byte budget fits two per batch.
	batches := Partition(s, PartitionConfig{MaxFields: 40, MaxPromptBytes: 1200})

	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Fields, 2)
	assert.Len(t, batches[1].Fields, 2)
}

func TestPartition_SkipsDerivedFields(t *testing.T) {
	t.Parallel()

	fields := makeFields(4, "filling", "a")
	fields = append(fields, model.FieldSpec{Name: "options_summary", Type: model.FieldText, Derived: true})
	s := model.NewSchema("goa", fields)

	batches := Partition(s, PartitionConfig{})

	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Fields, 4)
	assert.NotContains(t, batches[0].FieldNames(), "options_summary")
}

func TestPartition_EmptySchema(t *testing.T) {
	t.Parallel()

	batches := Partition(model.NewSchema("goa", nil), PartitionConfig{})
	assert.Empty(t, batches)
}
