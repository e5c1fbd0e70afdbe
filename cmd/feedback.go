package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/model"
)

var (
	fbField      string
	fbOriginal   string
	fbCorrected  string
	fbCategory   string
	fbVariant    string
	fbContext    string
	fbExampleID  string
	fbExampleIDs []string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record user feedback on extracted values",
}

// readContext loads the document context a correction was made against.
func readContext() (string, error) {
	if fbContext == "" {
		return "", nil
	}
	data, err := os.ReadFile(fbContext)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

var feedbackCorrectCmd = &cobra.Command{
	Use:   "correct",
	Short: "Record a corrected value, promoting it to a new example",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		contextText, err := readContext()
		if err != nil {
			return err
		}

		st, recorder, err := initFeedbackEnv(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		err = recorder.RecordCorrection(ctx, model.FeedbackRecord{
			FieldName:          fbField,
			OriginalPrediction: fbOriginal,
			CorrectedValue:     fbCorrected,
			Category:           fbCategory,
			Variant:            fbVariant,
			Context:            contextText,
			ExampleID:          fbExampleID,
		})
		if err != nil {
			return err
		}
		zap.L().Info("correction recorded", zap.String("field", fbField))
		return nil
	},
}

var feedbackConfirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a prediction, reinforcing the examples behind it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, recorder, err := initFeedbackEnv(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		err = recorder.RecordConfirmation(ctx, model.FeedbackRecord{
			FieldName:          fbField,
			OriginalPrediction: fbOriginal,
			Category:           fbCategory,
			Variant:            fbVariant,
		}, fbExampleIDs)
		if err != nil {
			return err
		}
		zap.L().Info("confirmation recorded",
			zap.String("field", fbField),
			zap.Int("examples", len(fbExampleIDs)))
		return nil
	},
}

var feedbackRejectCmd = &cobra.Command{
	Use:   "reject",
	Short: "Reject a prediction, decaying the examples behind it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, recorder, err := initFeedbackEnv(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		err = recorder.RecordRejection(ctx, model.FeedbackRecord{
			FieldName:          fbField,
			OriginalPrediction: fbOriginal,
			Category:           fbCategory,
			Variant:            fbVariant,
		}, fbExampleIDs)
		if err != nil {
			return err
		}
		zap.L().Info("rejection recorded",
			zap.String("field", fbField),
			zap.Int("examples", len(fbExampleIDs)))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{feedbackCorrectCmd, feedbackConfirmCmd, feedbackRejectCmd} {
		c.Flags().StringVar(&fbField, "field", "", "field name (required)")
		c.Flags().StringVar(&fbOriginal, "original", "", "the predicted value")
		c.Flags().StringVar(&fbCategory, "category", "", "machine category")
		c.Flags().StringVar(&fbVariant, "variant", "", "template variant")
		_ = c.MarkFlagRequired("field")
	}

	feedbackCorrectCmd.Flags().StringVar(&fbCorrected, "value", "", "the corrected value (required)")
	feedbackCorrectCmd.Flags().StringVar(&fbContext, "context-file", "", "file holding the document context the correction applies to")
	feedbackCorrectCmd.Flags().StringVar(&fbExampleID, "example-id", "", "example that produced the wrong prediction")
	_ = feedbackCorrectCmd.MarkFlagRequired("value")

	feedbackConfirmCmd.Flags().StringSliceVar(&fbExampleIDs, "example-ids", nil, "examples that produced the prediction")
	feedbackRejectCmd.Flags().StringSliceVar(&fbExampleIDs, "example-ids", nil, "examples that produced the prediction")

	feedbackCmd.AddCommand(feedbackCorrectCmd, feedbackConfirmCmd, feedbackRejectCmd)
	rootCmd.AddCommand(feedbackCmd)
}
