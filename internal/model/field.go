package model

// FieldType classifies how a field's value is constrained.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldBoolean FieldType = "boolean"
	FieldEnum    FieldType = "enum"
)

// Checkbox vocabulary. Every boolean field reduces to exactly one of these.
const (
	CheckboxYes = "YES"
	CheckboxNo  = "NO"
)

// FieldSpec describes a single template field to be extracted.
// Specs are immutable for the duration of an extraction run.
type FieldSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Section     string    `json:"section" yaml:"section"`
	Subsection  string    `json:"subsection,omitempty" yaml:"subsection,omitempty"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	// Options constrains enum fields to a declared vocabulary. Order is
	// priority order: when an exclusivity rule must pick one, the earliest
	// listed option wins.
	Options     []string `json:"options,omitempty" yaml:"options,omitempty"`
	Placeholder string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	// Synonyms are alternate phrasings the source text may use for the field.
	Synonyms []string `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
	// PositiveIndicators are keywords that count as evidence for a YES on a
	// boolean field; NegativeIndicators override them.
	PositiveIndicators []string `json:"positive_indicators,omitempty" yaml:"positive_indicators,omitempty"`
	NegativeIndicators []string `json:"negative_indicators,omitempty" yaml:"negative_indicators,omitempty"`
	// ExclusiveGroup names a set of boolean fields of which at most one may
	// be YES (e.g. HMI sizes, PLC types).
	ExclusiveGroup string `json:"exclusive_group,omitempty" yaml:"exclusive_group,omitempty"`
	// Derived fields are never extracted; they are rebuilt from the other
	// fields' final values on every run (e.g. the options summary).
	Derived bool `json:"derived,omitempty" yaml:"derived,omitempty"`
}

// IsBoolean reports whether the field is a checkbox.
func (f FieldSpec) IsBoolean() bool { return f.Type == FieldBoolean }

// DefaultValue returns the value used when nothing can be extracted:
// NO for checkboxes, the empty string otherwise.
func (f FieldSpec) DefaultValue() string {
	if f.IsBoolean() {
		return CheckboxNo
	}
	return ""
}

// AllowsValue reports whether v is admissible for the field. Empty is always
// admissible for text and enum fields.
func (f FieldSpec) AllowsValue(v string) bool {
	switch f.Type {
	case FieldBoolean:
		return v == CheckboxYes || v == CheckboxNo
	case FieldEnum:
		if v == "" {
			return true
		}
		for _, opt := range f.Options {
			if opt == v {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Schema is an ordered field schema with indexed lookup.
type Schema struct {
	Variant string
	Fields  []FieldSpec

	byName map[string]*FieldSpec
}

// NewSchema builds a Schema with indexed lookups. Field order is preserved;
// duplicate names keep the first occurrence.
func NewSchema(variant string, fields []FieldSpec) *Schema {
	s := &Schema{
		Variant: variant,
		Fields:  fields,
		byName:  make(map[string]*FieldSpec, len(fields)),
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		if _, ok := s.byName[f.Name]; !ok {
			s.byName[f.Name] = f
		}
	}
	return s
}

// ByName returns the spec for the given field name, or nil if not declared.
func (s *Schema) ByName(name string) *FieldSpec {
	return s.byName[name]
}

// Len returns the number of declared fields.
func (s *Schema) Len() int { return len(s.Fields) }

// Batch is an ordered, disjoint subset of the schema processed in one
// extraction request. The union of all batches for a run covers the schema
// exactly once.
type Batch struct {
	ID     string
	Seq    int
	Fields []FieldSpec
}

// FieldNames returns the names of the batch's fields in order.
func (b Batch) FieldNames() []string {
	names := make([]string, len(b.Fields))
	for i, f := range b.Fields {
		names[i] = f.Name
	}
	return names
}
