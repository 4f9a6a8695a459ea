package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxrules/internal/engine"
)

var buildSources []string

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild rules packages now",
	Long:  "Rebuilds every rules package from the stored line items, or from --source feeds after ingesting them. Runs regardless of the schedule.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := newEngine(st).Run(ctx, engine.RunOpts{
			Force:     true,
			Sources:   buildSources,
			FromStore: len(buildSources) == 0,
		})
		if err != nil {
			return eris.Wrap(err, "build")
		}

		printResult(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	buildCmd.Flags().StringSliceVar(&buildSources, "source", nil, "feed source to ingest before building (repeatable)")
	rootCmd.AddCommand(buildCmd)
}

func printResult(w io.Writer, res *engine.Result) {
	if res.Skipped {
		fmt.Fprintf(w, "skipped: %s\n", res.Reason)
		return
	}
	fmt.Fprintf(w, "build %s: %d items read, %d staged, %d packages\n",
		res.BuildID, res.ItemsRead, res.Stats.Staged, res.Packages)
	if n := res.Stats.Read - res.Stats.Staged; n > 0 {
		fmt.Fprintf(w, "  dropped %d items (%d missing fields, %d no jurisdiction, %d low confidence)\n",
			n, res.Stats.MissingFields, res.Stats.NoJurisdiction, res.Stats.LowConfidence)
	}
	for _, d := range res.Duplicates {
		fmt.Fprintf(w, "  duplicate standard deduction %s %d %s: %v\n",
			d.Key.JurisdictionCode, d.Key.TaxYear, d.FilingStatus, d.Values)
	}
	for _, c := range res.Collisions {
		fmt.Fprintf(w, "  package id collision %s: kept level %q, dropped %d groups\n",
			c.PackageID, c.Kept.JurisdictionLevel, len(c.Dropped))
	}
}
