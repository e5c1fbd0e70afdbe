package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/quotefill/internal/model"
)

// VerifyConfig tunes the evidence check.
type VerifyConfig struct {
	// Enabled turns verification off entirely when false.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// FlipUnsupportedYes rewrites a YES checkbox to NO when the document
	// contains no supporting indicator.
	FlipUnsupportedYes bool `yaml:"flip_unsupported_yes" mapstructure:"flip_unsupported_yes"`
}

// DefaultVerifyConfig returns the standard verification settings.
func DefaultVerifyConfig() VerifyConfig {
	return VerifyConfig{Enabled: true, FlipUnsupportedYes: true}
}

// Verdict is the outcome of verifying one field.
type Verdict struct {
	Value          string
	EvidenceBacked bool
	// ZeroEvidence marks a value suppressed for lack of evidence: a YES
	// flipped to NO, or a text value reset to empty.
	ZeroEvidence bool
}

// Verifier checks extracted values against the source document so a
// hallucinated value never lands in the output unflagged.
type Verifier struct {
	cfg VerifyConfig

	// Normalized views of the document, computed once per run.
	doc      string
	squashed string
}

var foldCaser = cases.Fold()

// stripMarks removes diacritics so "Fräser" matches "Fraser".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NewVerifier prepares a Verifier for one source document.
func NewVerifier(doc model.SourceDocument, cfg VerifyConfig) *Verifier {
	var b strings.Builder
	b.WriteString(doc.Text)
	for _, it := range doc.ItemDescriptions() {
		b.WriteString("\n")
		b.WriteString(it)
	}
	normalized := normalizeText(b.String())
	return &Verifier{
		cfg:      cfg,
		doc:      normalized,
		squashed: squash(normalized),
	}
}

// Verify checks one extracted value against the document. Empty values and
// NO checkboxes need no evidence.
func (v *Verifier) Verify(f model.FieldSpec, value string) Verdict {
	if !v.cfg.Enabled {
		return Verdict{Value: value, EvidenceBacked: true}
	}
	if value == "" || value == model.CheckboxNo {
		return Verdict{Value: value, EvidenceBacked: true}
	}

	if f.IsBoolean() {
		return v.verifyYes(f, value)
	}

	if !v.contains(value) {
		return Verdict{Value: "", ZeroEvidence: true}
	}
	return Verdict{Value: value, EvidenceBacked: true}
}

// verifyYes demands a positive indicator in the document and no overriding
// negative indicator. An unsupported YES is flipped to NO when configured.
func (v *Verifier) verifyYes(f model.FieldSpec, value string) Verdict {
	for _, neg := range f.NegativeIndicators {
		if v.contains(neg) {
			if v.cfg.FlipUnsupportedYes {
				return Verdict{Value: model.CheckboxNo, ZeroEvidence: true}
			}
			return Verdict{Value: value}
		}
	}

	indicators := f.PositiveIndicators
	if len(indicators) == 0 {
		indicators = f.Synonyms
	}
	for _, pos := range indicators {
		if v.contains(pos) {
			return Verdict{Value: value, EvidenceBacked: true}
		}
	}

	if v.cfg.FlipUnsupportedYes {
		return Verdict{Value: model.CheckboxNo, ZeroEvidence: true}
	}
	return Verdict{Value: value}
}

// contains reports whether the document mentions needle, tolerating case,
// diacritics and spacing between numbers and units ("80 PSI" matches
// "80psi").
func (v *Verifier) contains(needle string) bool {
	n := normalizeText(needle)
	if n == "" {
		return false
	}
	if strings.Contains(v.doc, n) {
		return true
	}
	return strings.Contains(v.squashed, squash(n))
}

// normalizeText lowercases, strips diacritics and collapses whitespace.
func normalizeText(s string) string {
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = foldCaser.String(s)
	return strings.Join(strings.Fields(s), " ")
}

// squash removes spaces and punctuation so token-boundary differences don't
// block a match.
func squash(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
