package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/quotefill/internal/model"
)

func rulesSchema() *model.Schema {
	return model.NewSchema("goa", []model.FieldSpec{
		{Name: "machine_model", Type: model.FieldText, Placeholder: "Enter model"},
		{Name: "voltage", Type: model.FieldText},
		{Name: "frequency_hz", Type: model.FieldText},
		{Name: "air_pressure", Type: model.FieldText},
		{Name: "beacon_color", Type: model.FieldEnum, Options: []string{"Red", "Amber", "Green"}},
		{Name: "hmi_7in", Type: model.FieldBoolean, ExclusiveGroup: "hmi"},
		{Name: "hmi_10in", Type: model.FieldBoolean, ExclusiveGroup: "hmi"},
		{Name: "plc_allen_bradley", Type: model.FieldBoolean, ExclusiveGroup: "plc"},
		{Name: "options_summary", Type: model.FieldText, Derived: true},
	})
}

func resultMap(values map[string]string) map[string]*model.FieldResult {
	out := make(map[string]*model.FieldResult, len(values))
	for name, v := range values {
		out[name] = &model.FieldResult{Name: name, Value: v, Status: model.StatusOK}
	}
	return out
}

func TestRules_WhitespaceAndPlaceholder(t *testing.T) {
	t.Parallel()

	s := rulesSchema()
	values := resultMap(map[string]string{
		"machine_model": "  VF-8000   Series ",
		"voltage":       "",
	})
	ApplyRules(DefaultRules(), s, values)

	assert.Equal(t, "VF-8000 Series", values["machine_model"].Value)

	values = resultMap(map[string]string{"machine_model": "enter model"})
	ApplyRules(DefaultRules(), s, values)
	assert.Equal(t, "", values["machine_model"].Value, "placeholder echo is cleared")
}

func TestRules_UnitFormatting(t *testing.T) {
	t.Parallel()

	cases := []struct {
		field, in, want string
	}{
		{"voltage", "220", "220V"},
		{"voltage", "220 v", "220V"},
		{"voltage", "220-240 volts", "220-240V"},
		{"voltage", "three phase", "three phase"},
		{"frequency_hz", "60", "60Hz"},
		{"frequency_hz", "60 hz", "60Hz"},
		{"air_pressure", "80", "80 PSI"},
		{"air_pressure", "80psi", "80 PSI"},
	}
	for _, tc := range cases {
		s := rulesSchema()
		values := resultMap(map[string]string{tc.field: tc.in})
		ApplyRules(DefaultRules(), s, values)
		assert.Equal(t, tc.want, values[tc.field].Value, "%s: %s", tc.field, tc.in)
	}
}

func TestRules_EnumCanonicalCasing(t *testing.T) {
	t.Parallel()

	s := rulesSchema()
	values := resultMap(map[string]string{"beacon_color": "amber"})
	ApplyRules(DefaultRules(), s, values)
	assert.Equal(t, "Amber", values["beacon_color"].Value)
}

func TestRules_ExclusiveGroupKeepsFirstInSchemaOrder(t *testing.T) {
	t.Parallel()

	s := rulesSchema()
	values := resultMap(map[string]string{
		"hmi_7in":           "YES",
		"hmi_10in":          "YES",
		"plc_allen_bradley": "YES",
	})
	ApplyRules(DefaultRules(), s, values)

	assert.Equal(t, model.CheckboxYes, values["hmi_7in"].Value)
	assert.Equal(t, model.CheckboxNo, values["hmi_10in"].Value)
	assert.Equal(t, model.CheckboxYes, values["plc_allen_bradley"].Value, "separate group untouched")
}

func TestRules_SummaryRebuiltFromSelections(t *testing.T) {
	t.Parallel()

	s := rulesSchema()
	values := resultMap(map[string]string{
		"beacon_color":    "Amber",
		"hmi_7in":         "YES",
		"hmi_10in":        "NO",
		"options_summary": "stale summary from an earlier run",
	})
	ApplyRules(DefaultRules(), s, values)

	assert.Equal(t, "beacon_color: Amber; hmi_7in", values["options_summary"].Value)

	// Flipping a selection rebuilds the summary in full.
	values["hmi_7in"].Value = "NO"
	ApplyRules(DefaultRules(), s, values)
	assert.Equal(t, "beacon_color: Amber", values["options_summary"].Value)
}

func TestRules_Idempotent(t *testing.T) {
	t.Parallel()

	s := rulesSchema()
	values := resultMap(map[string]string{
		"machine_model": " VF-8000 ",
		"voltage":       "220 v",
		"frequency_hz":  "60",
		"air_pressure":  "80psi",
		"beacon_color":  "red",
		"hmi_7in":       "YES",
		"hmi_10in":      "YES",
	})
	ApplyRules(DefaultRules(), s, values)

	first := make(map[string]string, len(values))
	for name, fr := range values {
		first[name] = fr.Value
	}

	ApplyRules(DefaultRules(), s, values)
	for name, fr := range values {
		require.Equal(t, first[name], fr.Value, "rule output changed on second pass for %s", name)
	}
}
