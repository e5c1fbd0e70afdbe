package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/ingest"
)

var (
	extractText     string
	extractItems    string
	extractSheet    string
	extractSkipRows int
	extractSchema   string
	extractVariant  string
	extractCategory string
	extractOut      string
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract template fields from a quote document",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := loadSchema(extractSchema, extractVariant)
		if err != nil {
			return err
		}

		doc, err := ingest.LoadDocument(extractText, extractItems, ingest.XLSXOptions{
			SheetName: extractSheet,
			SkipRows:  extractSkipRows,
		})
		if err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Engine.Run(ctx, extractCategory, s, doc)
		if err != nil {
			return eris.Wrap(err, "extraction run")
		}

		for _, fr := range result.NeedsReview() {
			zap.L().Warn("field needs review",
				zap.String("field", fr.Name),
				zap.String("status", string(fr.Status)),
				zap.String("value", fr.Value))
		}

		if extractOut != "" {
			if err := ingest.WriteResult(extractOut, result); err != nil {
				return err
			}
			zap.L().Info("result workbook written", zap.String("path", extractOut))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	extractCmd.Flags().StringVar(&extractText, "text", "", "path to the quote document text (required)")
	extractCmd.Flags().StringVar(&extractItems, "items", "", "path to a line-items spreadsheet")
	extractCmd.Flags().StringVar(&extractSheet, "sheet", "", "line-items sheet name (default first sheet)")
	extractCmd.Flags().IntVar(&extractSkipRows, "skip-rows", 0, "header rows to skip in the line-items sheet")
	extractCmd.Flags().StringVar(&extractSchema, "schema", "", "path to a schema file (overrides --variant)")
	extractCmd.Flags().StringVar(&extractVariant, "variant", "", "template variant name, resolved in the schemas dir")
	extractCmd.Flags().StringVar(&extractCategory, "category", "", "machine category for example retrieval")
	extractCmd.Flags().StringVar(&extractOut, "out", "", "write the result as an xlsx workbook")
	_ = extractCmd.MarkFlagRequired("text")
	rootCmd.AddCommand(extractCmd)
}
