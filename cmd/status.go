package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxrules/internal/store"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the build log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.Builds(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(entries) == 0 {
			zap.L().Info("no builds found, run 'taxrules build' or 'taxrules sync' first")
			return nil
		}

		formatBuildEntries(cmd.OutOrStdout(), entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of builds to show")
	rootCmd.AddCommand(statusCmd)
}

// formatBuildEntries writes a tabular representation of build log entries to out.
func formatBuildEntries(out io.Writer, entries []store.BuildEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tDURATION\tITEMS\tPACKAGES\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-------\t--------\t-----\t--------\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			d := e.CompletedAt.Sub(e.StartedAt).Round(time.Second)
			dur = d.String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			e.ID,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.ItemsStaged,
			e.PackagesBuilt,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncate shortens s to at most n runes, adding "..." if truncated.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
