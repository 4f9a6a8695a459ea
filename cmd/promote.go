package main

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxrules/internal/store"
)

var promoteCmd = &cobra.Command{
	Use:   "promote <package_id>",
	Short: "Mark a rules package as promoted",
	Long:  "Promotion is a manual release step; builds never set it and rebuilding a package keeps it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		id := args[0]
		if err := st.Promote(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return eris.Errorf("promote: no package %q", id)
			}
			return eris.Wrap(err, "promote")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "promoted %s\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(promoteCmd)
}
