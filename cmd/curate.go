package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/quotefill/internal/extract"
)

var curateCmd = &cobra.Command{
	Use:   "curate",
	Short: "Sweep the example base, deprioritizing failing examples",
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

		changed, err := extract.NewCurator(st, cfg.Curation).Sweep(ctx)
		if err != nil {
			return err
		}

		zap.L().Info("curation sweep finished", zap.Int("changed", changed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(curateCmd)
}
