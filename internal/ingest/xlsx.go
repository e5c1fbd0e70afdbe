// Package ingest loads source documents and quote line items, and writes
// extraction results back out.
package ingest

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/quotefill/internal/model"
)

// XLSXOptions configures the line-item reader.
type XLSXOptions struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	SkipRows   int    // number of header rows to skip
}

// ReadLineItems reads quote line items from a spreadsheet. Expected columns:
// description, quantity, unit price, included flag. Missing trailing columns
// default to quantity 1, price 0, included true.
func ReadLineItems(path string, opts XLSXOptions) ([]model.LineItem, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open file")
	}

	sheet, err := getSheet(f, opts)
	if err != nil {
		return nil, err
	}

	var items []model.LineItem
	for i, row := range sheet.Rows {
		if i < opts.SkipRows {
			continue
		}
		item, ok := rowToItem(row)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// LoadDocument reads a plain-text source document, optionally attaching line
// items from a spreadsheet. itemsPath may be empty.
func LoadDocument(textPath, itemsPath string, opts XLSXOptions) (model.SourceDocument, error) {
	data, err := os.ReadFile(textPath)
	if err != nil {
		return model.SourceDocument{}, eris.Wrapf(err, "read document %s", textPath)
	}
	doc := model.SourceDocument{Text: string(data)}

	if itemsPath != "" {
		items, err := ReadLineItems(itemsPath, opts)
		if err != nil {
			return model.SourceDocument{}, err
		}
		doc.LineItems = items
	}
	return doc, nil
}

// WriteResult writes an extraction result as a two-sheet workbook: one row
// per field, plus a run summary.
func WriteResult(path string, res *model.Result) error {
	f := xlsx.NewFile()

	fields, err := f.AddSheet("Fields")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	header := fields.AddRow()
	for _, h := range []string{"Field", "Value", "Status", "Confidence", "Evidence"} {
		header.AddCell().SetString(h)
	}
	for _, fr := range res.Fields {
		row := fields.AddRow()
		row.AddCell().SetString(fr.Name)
		row.AddCell().SetString(fr.Value)
		row.AddCell().SetString(string(fr.Status))
		row.AddCell().SetFloatWithFormat(fr.Confidence, "0.00")
		row.AddCell().SetBool(fr.EvidenceBacked)
	}

	summary, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}
	for _, kv := range [][2]string{
		{"Run ID", res.RunID},
		{"Category", res.Category},
		{"Variant", res.Variant},
		{"Fields", strconv.Itoa(len(res.Fields))},
		{"Batches", strconv.Itoa(res.BatchCount)},
		{"Failed batches", strconv.Itoa(res.FailedBatch)},
		{"Needs review", strconv.Itoa(len(res.NeedsReview()))},
		{"Duration", res.Duration.String()},
	} {
		row := summary.AddRow()
		row.AddCell().SetString(kv[0])
		row.AddCell().SetString(kv[1])
	}

	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

func getSheet(f *xlsx.File, opts XLSXOptions) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}

	if opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("xlsx: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}

	return f.Sheets[opts.SheetIndex], nil
}

func rowToItem(row *xlsx.Row) (model.LineItem, bool) {
	cell := func(i int) string {
		if i >= len(row.Cells) {
			return ""
		}
		return strings.TrimSpace(row.Cells[i].String())
	}

	item := model.LineItem{
		Description: cell(0),
		Quantity:    1,
		Included:    true,
	}
	if item.Description == "" {
		return model.LineItem{}, false
	}
	if q, err := strconv.Atoi(cell(1)); err == nil && q > 0 {
		item.Quantity = q
	}
	if p, err := strconv.ParseFloat(cell(2), 64); err == nil {
		item.Price = p
	}
	switch strings.ToLower(cell(3)) {
	case "no", "false", "0", "excluded":
		item.Included = false
	}
	return item, true
}
