package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxrules/internal/engine"
)

var syncForce bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest configured feeds and rebuild when due",
	Long:  "Rebuilds once a year after the configured release month, or whenever a configured feed changed since the last successful build.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "sync")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := newEngine(st).Run(ctx, engine.RunOpts{Force: syncForce})
		if err != nil {
			return eris.Wrap(err, "sync")
		}

		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "rebuild even if not due")
	rootCmd.AddCommand(syncCmd)
}
