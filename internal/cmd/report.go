package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/report"
)

// NewReportCommand creates the report command.
func NewReportCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the duplicate report from the catalog without scanning",
		Long: `Report re-emits the CSV from digests already in the catalog. Nothing is
walked or read, so files changed since the last scan are reported as they
were then.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("db") {
				cfg.DBPath, _ = f.GetString("db")
			}
			if f.Changed("out") {
				cfg.ReportPath, _ = f.GetString("out")
			}
			if f.Changed("algo") {
				cfg.HashAlgorithm, _ = f.GetString("algo")
			}
			if f.Changed("skip-empty") {
				cfg.SkipEmpty, _ = f.GetBool("skip-empty")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			byLocation, _ := f.GetBool("by-location")
			noHeader, _ := f.GetBool("no-header")

			store, err := catalog.OpenSQLite(cfg.DBPath, cfg.StoreRetries)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer store.Close()

			groups, err := report.Load(cmd.Context(), store, report.Filter{
				Algorithm: cfg.HashAlgorithm,
				SkipEmpty: cfg.SkipEmpty,
			})
			if err != nil {
				return err
			}

			err = report.WriteFile(cfg.ReportPath, func(w io.Writer) error {
				return report.WriteCSV(w, groups, report.Options{
					Algorithm:  cfg.HashAlgorithm,
					NoHeader:   noHeader,
					ByLocation: byLocation,
				})
			})
			if err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			slog.Info("report written", "path", cfg.ReportPath, "groups", len(groups))
			printGroupTotals(cmd.ErrOrStderr(), report.Summarize(groups))
			return nil
		},
	}
	f := cmd.Flags()
	f.String("db", "", "catalog database path")
	f.String("out", "", `report path, "-" for stdout`)
	f.String("algo", "", "report digests computed with this algorithm")
	f.Bool("by-location", false, "order rows by path instead of by group")
	f.Bool("no-header", false, "omit the header row")
	f.Bool("skip-empty", false, "leave zero-byte files out of the report")
	return cmd
}
