package extract

import (
	"regexp"
	"strings"

	"github.com/sells-group/quotefill/internal/model"
)

// Rule rewrites extracted values after verification. Rules are pure value
// transforms: applying the set twice must produce the same output as once.
type Rule interface {
	Name() string
	Apply(s *model.Schema, values map[string]*model.FieldResult)
}

// DefaultRules returns the standard rule set in application order.
func DefaultRules() []Rule {
	return []Rule{
		whitespaceRule{},
		placeholderRule{},
		enumCanonicalRule{},
		unitRule{name: "voltage_format", match: []string{"voltage", "volt"}, re: voltageRe, suffix: "V", space: false},
		unitRule{name: "frequency_format", match: []string{"frequency", "hertz", "_hz"}, re: numberRe, suffix: "Hz", space: false},
		unitRule{name: "pressure_format", match: []string{"pressure", "psi"}, re: numberRe, suffix: "PSI", space: true},
		exclusiveGroupRule{},
		summaryRule{},
	}
}

// ApplyRules runs every rule in order.
func ApplyRules(rules []Rule, s *model.Schema, values map[string]*model.FieldResult) {
	for _, r := range rules {
		r.Apply(s, values)
	}
}

// whitespaceRule trims values and collapses internal runs of whitespace.
type whitespaceRule struct{}

func (whitespaceRule) Name() string { return "whitespace" }

func (whitespaceRule) Apply(s *model.Schema, values map[string]*model.FieldResult) {
	for _, fr := range values {
		fr.Value = strings.Join(strings.Fields(fr.Value), " ")
	}
}

// placeholderRule clears values that merely echo the template placeholder.
type placeholderRule struct{}

func (placeholderRule) Name() string { return "placeholder" }

func (placeholderRule) Apply(s *model.Schema, values map[string]*model.FieldResult) {
	for name, fr := range values {
		f := s.ByName(name)
		if f == nil || f.Placeholder == "" {
			continue
		}
		if strings.EqualFold(fr.Value, f.Placeholder) {
			fr.Value = f.DefaultValue()
		}
	}
}

// enumCanonicalRule rewrites enum values to the declared option casing, so
// "red" becomes "Red".
type enumCanonicalRule struct{}

func (enumCanonicalRule) Name() string { return "enum_canonical" }

func (enumCanonicalRule) Apply(s *model.Schema, values map[string]*model.FieldResult) {
	for name, fr := range values {
		f := s.ByName(name)
		if f == nil || f.Type != model.FieldEnum || fr.Value == "" {
			continue
		}
		for _, opt := range f.Options {
			if strings.EqualFold(fr.Value, opt) {
				fr.Value = opt
				break
			}
		}
	}
}

var (
	// voltageRe also accepts ranges like "220-240".
	voltageRe = regexp.MustCompile(`^(\d+(?:\.\d+)?(?:\s*-\s*\d+(?:\.\d+)?)?)\s*(?:v|volts?)?$`)
	numberRe  = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*[a-zA-Z]*$`)
)

// unitRule normalizes a bare or loosely-written measurement to "<n><unit>"
// form on fields whose name mentions the quantity.
type unitRule struct {
	name   string
	match  []string
	re     *regexp.Regexp
	suffix string
	space  bool
}

func (r unitRule) Name() string { return r.name }

func (r unitRule) Apply(s *model.Schema, values map[string]*model.FieldResult) {
	for name, fr := range values {
		f := s.ByName(name)
		if f == nil || f.Type != model.FieldText || fr.Value == "" {
			continue
		}
		if !r.matches(name) {
			continue
		}
		m := r.re.FindStringSubmatch(strings.ToLower(fr.Value))
		if m == nil {
			continue
		}
		num := strings.ReplaceAll(m[1], " ", "")
		if r.space {
			fr.Value = num + " " + r.suffix
		} else {
			fr.Value = num + r.suffix
		}
	}
}

func (r unitRule) matches(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, m := range r.match {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// summaryRule rebuilds every derived field from the current selections:
// checked options by label, then filled enums as "label: value". The value
// is recomputed in full each run, never patched incrementally.
type summaryRule struct{}

func (summaryRule) Name() string { return "summary" }

func (summaryRule) Apply(s *model.Schema, values map[string]*model.FieldResult) {
	var parts []string
	for _, f := range s.Fields {
		if f.Derived {
			continue
		}
		fr, ok := values[f.Name]
		if !ok {
			continue
		}
		switch {
		case f.IsBoolean() && fr.Value == model.CheckboxYes:
			parts = append(parts, fieldLabel(f))
		case f.Type == model.FieldEnum && fr.Value != "":
			parts = append(parts, fieldLabel(f)+": "+fr.Value)
		}
	}
	summary := strings.Join(parts, "; ")

	for _, f := range s.Fields {
		if !f.Derived {
			continue
		}
		fr, ok := values[f.Name]
		if !ok {
			continue
		}
		fr.Value = summary
		fr.Status = model.StatusOK
	}
}

func fieldLabel(f model.FieldSpec) string {
	if f.Description != "" {
		return f.Description
	}
	return f.Name
}

// exclusiveGroupRule enforces at-most-one YES per exclusive group. When the
// model checks several, the earliest field in schema order wins; that order
// encodes option priority.
type exclusiveGroupRule struct{}

func (exclusiveGroupRule) Name() string { return "exclusive_group" }

func (exclusiveGroupRule) Apply(s *model.Schema, values map[string]*model.FieldResult) {
	taken := make(map[string]bool)
	for _, f := range s.Fields {
		if f.ExclusiveGroup == "" || !f.IsBoolean() {
			continue
		}
		fr, ok := values[f.Name]
		if !ok || fr.Value != model.CheckboxYes {
			continue
		}
		if taken[f.ExclusiveGroup] {
			fr.Value = model.CheckboxNo
			continue
		}
		taken[f.ExclusiveGroup] = true
	}
}
