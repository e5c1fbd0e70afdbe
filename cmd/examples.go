package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/model"
	"github.com/sells-group/quotefill/internal/store"
)

var (
	exCategory   string
	exVariant    string
	exField      string
	exLimit      int
	exContext    string
	exOutput     string
	exConfidence float64
)

var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "Inspect and seed the example base",
}

var examplesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored examples",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		examples, err := st.ListExamples(ctx, store.ExampleFilter{
			Category:  exCategory,
			Variant:   exVariant,
			FieldName: exField,
			Limit:     exLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(examples)
	},
}

var examplesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Seed a hand-curated example",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(exContext)
		if err != nil {
			return err
		}

		st, recorder, err := initFeedbackEnv(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		err = recorder.AddExample(ctx, model.Example{
			Category:     exCategory,
			Variant:      exVariant,
			FieldName:    exField,
			InputContext: string(data),
			ExpectedOut:  exOutput,
			Confidence:   exConfidence,
		})
		if err != nil {
			return err
		}
		zap.L().Info("example seeded", zap.String("field", exField))
		return nil
	},
}

func init() {
	examplesListCmd.Flags().StringVar(&exCategory, "category", "", "filter by machine category")
	examplesListCmd.Flags().StringVar(&exVariant, "variant", "", "filter by template variant")
	examplesListCmd.Flags().StringVar(&exField, "field", "", "filter by field name")
	examplesListCmd.Flags().IntVar(&exLimit, "limit", 50, "maximum examples to return")

	examplesAddCmd.Flags().StringVar(&exCategory, "category", "", "machine category (required)")
	examplesAddCmd.Flags().StringVar(&exVariant, "variant", "", "template variant (required)")
	examplesAddCmd.Flags().StringVar(&exField, "field", "", "field name (required)")
	examplesAddCmd.Flags().StringVar(&exContext, "context-file", "", "file holding the example's input context (required)")
	examplesAddCmd.Flags().StringVar(&exOutput, "output", "", "the expected extraction output (required)")
	examplesAddCmd.Flags().Float64Var(&exConfidence, "confidence", 0, "initial confidence (default for curated examples)")
	for _, flag := range []string{"category", "variant", "field", "context-file", "output"} {
		_ = examplesAddCmd.MarkFlagRequired(flag)
	}

	examplesCmd.AddCommand(examplesListCmd, examplesAddCmd)
	rootCmd.AddCommand(examplesCmd)
}
