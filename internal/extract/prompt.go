// Package extract runs schema-driven field extraction over source documents.
package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/pkg/anthropic"
)

// systemText is the system prompt shared by every batch of a run. The
// document context rides in the same block so prompt caching covers it.
const systemText = `You are a precise data-entry assistant filling out an equipment quote template from a customer's source document.

Rules:
- Answer ONLY from the source document. Never invent values.
- Checkbox fields take exactly "YES" or "NO". Answer "YES" only when the document contains explicit evidence.
- Choice fields take exactly one of the listed options, or "" if none applies.
- Text fields take the value as written in the document, normalized per the field description. Use "" when the document is silent.
- Respond with a single JSON object and nothing else.

Source document:
%s`

// batchPrompt is the per-batch user prompt. Placeholders: field definitions,
// few-shot examples, field-name list.
const batchPrompt = `Extract the following fields from the source document.

Fields:
%s
%sRespond with a JSON object of the form:
{"<field_name>": {"value": "<extracted value>", "confidence": <0.0-1.0>}, ...}

Include every one of these fields exactly once: %s`

// repairPrompt asks the model to fix a response that violated the schema.
const repairPrompt = `Your previous response was invalid: %s

Return the corrected JSON object now. Same format, every field present, checkbox fields strictly "YES" or "NO", choice fields strictly one of their options or "".`

// Assembler renders extraction prompts for one run. The document context is
// fixed at construction so the cached system block is identical across
// batches.
type Assembler struct {
	system []anthropic.SystemBlock
}

// NewAssembler builds an Assembler for a source document. Line items are
// appended to the document text so the model sees the full quote context.
func NewAssembler(doc model.SourceDocument) *Assembler {
	var b strings.Builder
	b.WriteString(doc.Text)
	if items := doc.ItemDescriptions(); len(items) > 0 {
		b.WriteString("\n\nQuoted line items:\n")
		for _, it := range items {
			b.WriteString("- ")
			b.WriteString(it)
			b.WriteString("\n")
		}
	}
	return &Assembler{
		system: anthropic.BuildCachedSystemBlocks(fmt.Sprintf(systemText, b.String())),
	}
}

// System returns the cached system blocks for the run.
func (a *Assembler) System() []anthropic.SystemBlock {
	return a.system
}

// BatchPrompt renders the user prompt for one batch, with retrieved few-shot
// examples keyed by field name.
func (a *Assembler) BatchPrompt(batch model.Batch, examples map[string][]model.Example) string {
	var defs strings.Builder
	for _, f := range batch.Fields {
		defs.WriteString(fieldDefinition(f))
	}

	var shots strings.Builder
	for _, f := range batch.Fields {
		for _, ex := range examples[f.Name] {
			fmt.Fprintf(&shots, "Given %q, the correct value for %s is %q.\n",
				ex.InputContext, f.Name, ex.ExpectedOut)
		}
	}
	shotBlock := ""
	if shots.Len() > 0 {
		shotBlock = "Examples from previously confirmed extractions:\n" + shots.String() + "\n"
	}

	return fmt.Sprintf(batchPrompt, defs.String(), shotBlock, strings.Join(batch.FieldNames(), ", "))
}

// RepairPrompt renders the follow-up prompt after a schema violation.
func (a *Assembler) RepairPrompt(violation string) string {
	return fmt.Sprintf(repairPrompt, violation)
}

func fieldDefinition(f model.FieldSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s", f.Name)
	switch f.Type {
	case model.FieldBoolean:
		b.WriteString(" (checkbox: YES/NO)")
	case model.FieldEnum:
		fmt.Fprintf(&b, " (one of: %s)", strings.Join(f.Options, ", "))
	}
	if f.Description != "" {
		b.WriteString(": ")
		b.WriteString(f.Description)
	}
	if len(f.Synonyms) > 0 {
		fmt.Fprintf(&b, " (also called: %s)", strings.Join(f.Synonyms, ", "))
	}
	b.WriteString("\n")
	return b.String()
}

// cleanJSON strips markdown code fences the model sometimes wraps around
// JSON output.
func cleanJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		if idx := strings.Index(cleaned, "\n"); idx >= 0 {
			cleaned = cleaned[idx+1:]
		}
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	}
	return strings.TrimSpace(cleaned)
}
