package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/config"
	"github.com/eargollo/dupecat/internal/db"
	"github.com/eargollo/dupecat/internal/report"
	"github.com/eargollo/dupecat/internal/scan"
)

// NewScanCommand creates the scan command.
func NewScanCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [root]",
		Short: "Scan a tree, update the catalog and write the duplicate report",
		Long: `Scan walks root (default: the configured root, or "."), reconciles the
catalog, hashes every file that shares its size with another and writes
one CSV row per duplicate file.

Per-file problems are logged as warnings and do not fail the scan. An
unreadable root or a catalog failure exits non-zero.

Examples:
  dupecat scan ~/Pictures --out pictures.csv
  dupecat scan /data --prune --algo xxh64 --hash-workers 4
  dupecat scan . --exclude .git --exclude node_modules --out -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load(cmd)
			if err != nil {
				return err
			}
			if err := applyScanFlags(cmd, cfg, args); err != nil {
				return err
			}
			noProgress, _ := cmd.Flags().GetBool("no-progress")
			byLocation, _ := cmd.Flags().GetBool("by-location")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runScan(ctx, cfg, cmd.ErrOrStderr(), scanOutput{
				showProgress: !noProgress && isTerminal(os.Stderr),
				byLocation:   byLocation,
			})
		},
	}

	f := cmd.Flags()
	f.Bool("follow-symlinks", false, "follow symbolic links (directory cycles are broken)")
	f.Bool("prune", false, "delete catalog records for files that no longer exist")
	f.String("db", "", "catalog database path (default from config: dupecat.db)")
	f.String("out", "", `report path, "-" for stdout (default from config: duplicates.csv)`)
	f.String("algo", "", "digest algorithm: md5, sha256, xxh64")
	f.Int("workers", 0, "concurrent directory walkers")
	f.Int("hash-workers", 0, "concurrent hashing workers")
	f.Duration("hash-timeout", 0, "abandon a single file read after this long (e.g. 30s)")
	f.Bool("verify", false, "byte-compare group members before reporting")
	f.StringArray("exclude", nil, "directory or file name to skip (repeatable)")
	f.Bool("skip-empty", false, "leave zero-byte files out of the report")
	f.Bool("no-progress", false, "disable the progress bar")
	f.Bool("by-location", false, "order report rows by path instead of by group")
	return cmd
}

// applyScanFlags overlays explicitly set flags on cfg.
func applyScanFlags(cmd *cobra.Command, cfg *config.Config, args []string) error {
	f := cmd.Flags()
	if len(args) == 1 {
		cfg.Root = args[0]
	}
	if f.Changed("follow-symlinks") {
		cfg.FollowSymlinks, _ = f.GetBool("follow-symlinks")
	}
	if f.Changed("prune") {
		cfg.Prune, _ = f.GetBool("prune")
	}
	if f.Changed("db") {
		cfg.DBPath, _ = f.GetString("db")
	}
	if f.Changed("out") {
		cfg.ReportPath, _ = f.GetString("out")
	}
	if f.Changed("algo") {
		cfg.HashAlgorithm, _ = f.GetString("algo")
	}
	if f.Changed("workers") {
		cfg.ScanWorkers.Walkers, _ = f.GetInt("workers")
	}
	if f.Changed("hash-workers") {
		cfg.ScanWorkers.Hashers, _ = f.GetInt("hash-workers")
	}
	if f.Changed("hash-timeout") {
		cfg.HashTimeout, _ = f.GetDuration("hash-timeout")
	}
	if f.Changed("verify") {
		cfg.Verify, _ = f.GetBool("verify")
	}
	if f.Changed("exclude") {
		cfg.ExcludePaths, _ = f.GetStringArray("exclude")
	}
	if f.Changed("skip-empty") {
		cfg.SkipEmpty, _ = f.GetBool("skip-empty")
	}
	return cfg.Validate()
}

type scanOutput struct {
	showProgress bool
	byLocation   bool
}

func runScan(ctx context.Context, cfg *config.Config, stderr io.Writer, out scanOutput) error {
	lock, err := db.Lock(cfg.DBPath)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	store, err := catalog.OpenSQLite(cfg.DBPath, cfg.StoreRetries)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	if err := scan.MarkStaleRunsFailed(store.DB()); err != nil {
		slog.Warn("mark stale runs", "error", err)
	}

	progress := &scan.Progress{}
	var bar *progressBar
	if out.showProgress {
		bar = startProgressBar(progress, stderr)
	}

	scanCfg := cfg.ScanConfig()
	res, err := scan.New(store, scan.NewHistory(store.DB()), scanCfg).Run(ctx, "", "cli", progress, nil)
	bar.Stop()
	if err != nil {
		return err
	}

	err = report.WriteFile(cfg.ReportPath, func(w io.Writer) error {
		return report.WriteCSV(w, res.Groups, report.Options{
			Algorithm:  scanCfg.Algorithm,
			ByLocation: out.byLocation,
		})
	})
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	printSummary(stderr, res, cfg.ReportPath)
	return nil
}

// elapsed rounds d for display.
func elapsed(d time.Duration) time.Duration {
	if d < time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(100 * time.Millisecond)
}
