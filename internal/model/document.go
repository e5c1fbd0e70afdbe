package model

import "strings"

// LineItem is one structured row from a quote document: a priced or
// included item with its description.
type LineItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity,omitempty"`
	Price       float64 `json:"price,omitempty"`
	Included    bool    `json:"included"`
}

// SourceDocument bundles the raw inputs for one extraction run. Text and
// line-item extraction happen upstream; this package only consumes them.
type SourceDocument struct {
	Text      string     `json:"text"`
	LineItems []LineItem `json:"line_items,omitempty"`
}

// ItemDescriptions returns the non-empty line-item descriptions in order.
func (d SourceDocument) ItemDescriptions() []string {
	out := make([]string, 0, len(d.LineItems))
	for _, it := range d.LineItems {
		if desc := strings.TrimSpace(it.Description); desc != "" {
			out = append(out, desc)
		}
	}
	return out
}

// ContextWindow returns up to max bytes of the document text, breaking on a
// line boundary where possible. The start of a quote carries the customer,
// project, and machine headers, so truncation keeps the head.
func (d SourceDocument) ContextWindow(max int) string {
	if max <= 0 || len(d.Text) <= max {
		return d.Text
	}
	cut := d.Text[:max]
	if i := strings.LastIndexByte(cut, '\n'); i > max/2 {
		cut = cut[:i]
	}
	return cut
}
