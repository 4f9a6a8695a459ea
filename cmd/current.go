package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/taxrules/internal/rules"
	"github.com/sells-group/taxrules/internal/store"
)

var (
	currentFormat       string
	currentJurisdiction string
	currentYear         int
)

var currentCmd = &cobra.Command{
	Use:   "current",
	Short: "Show the current rules package per jurisdiction and tax year",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pkgs, err := st.Current(ctx, time.Now(), cfg.Rules.CurrentWindowYears)
		if err != nil {
			return eris.Wrap(err, "current")
		}

		filter := store.PackageFilter{
			JurisdictionCode: strings.ToUpper(currentJurisdiction),
			TaxYear:          currentYear,
		}
		selected := make([]rules.RulesPackage, 0, len(pkgs))
		for _, p := range pkgs {
			if filter.Match(p) {
				selected = append(selected, p)
			}
		}

		return writePackages(cmd.OutOrStdout(), currentFormat, selected)
	},
}

func init() {
	currentCmd.Flags().StringVar(&currentFormat, "format", "table", "output format: table, json or yaml")
	currentCmd.Flags().StringVar(&currentJurisdiction, "jurisdiction", "", "jurisdiction code, e.g. US or CA")
	currentCmd.Flags().IntVar(&currentYear, "year", 0, "tax year")
	rootCmd.AddCommand(currentCmd)
}

// writePackages renders packages in the requested format.
func writePackages(w io.Writer, format string, pkgs []rules.RulesPackage) error {
	switch format {
	case "table", "":
		formatPackageTable(w, pkgs)
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(pkgs), "encode json")
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(pkgs); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		return eris.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

// formatPackageTable writes a tabular summary of packages to out.
func formatPackageTable(out io.Writer, pkgs []rules.RulesPackage) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PACKAGE\tLEVEL\tCODE\tYEAR\tSTD SINGLE\tSTD MFJ\tBRACKETS\tSOURCES\tUPDATED\tPROMOTED\tCHECKSUM")
	_, _ = fmt.Fprintln(w, "-------\t-----\t----\t----\t----------\t-------\t--------\t-------\t-------\t--------\t--------")

	for _, p := range pkgs {
		updated := "-"
		if p.LastUpdated != nil {
			updated = p.LastUpdated.Format(time.DateOnly)
		}
		brackets := 0
		for _, fs := range rules.FilingStatuses {
			brackets += len(p.TaxBrackets.For(fs))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0f\t%.0f\t%d\t%d\t%s\t%t\t%s\n",
			p.PackageID,
			p.JurisdictionLevel,
			p.JurisdictionCode,
			p.TaxYear,
			p.StandardDeduction.Single,
			p.StandardDeduction.MarriedFilingJointly,
			brackets,
			p.SourceCount,
			updated,
			p.IsPromoted,
			shortChecksum(p.ChecksumSHA256),
		)
	}
	_ = w.Flush()
}

func shortChecksum(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
