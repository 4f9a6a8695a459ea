package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <source>...",
	Short: "Replace stored line items with the contents of feed sources",
	Long:  "Loads CSV, JSON or XLSX extracts from local paths or http(s) URLs and replaces the stored revenue procedure items with their union.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := newEngine(st).Ingest(ctx, args)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "ingested %d items from %d sources\n", n, len(args))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
