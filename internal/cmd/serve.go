package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/eargollo/dupecat/internal/api"
	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/db"
	"github.com/eargollo/dupecat/internal/scan"
	"github.com/eargollo/dupecat/internal/scheduler"
)

// NewServeCommand creates the serve command.
func NewServeCommand(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the catalog over HTTP and run scheduled scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			if f.Changed("addr") {
				cfg.HTTPAddr, _ = f.GetString("addr")
			}
			if f.Changed("db") {
				cfg.DBPath, _ = f.GetString("db")
			}
			if f.Changed("root") {
				cfg.Root, _ = f.GetString("root")
			}
			slog.Info("dupecat starting",
				"version", Version,
				"log_level", cfg.LogLevel,
				"http_addr", cfg.HTTPAddr,
				"db_path", cfg.DBPath,
				"root", cfg.Root)

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

			// Mark any runs that were 'running' when the last process exited as failed.
			if err := scan.MarkStaleRunsFailed(store.DB()); err != nil {
				slog.Warn("mark stale runs", "error", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			history := scan.NewHistory(store.DB())
			mgr := scan.NewManager(store, history, cfg.ScanConfig())

			sched := scheduler.New()
			if cfg.Schedule != "" {
				if err := sched.SetScanJob(ctx, cfg.Schedule, mgr); err != nil {
					slog.Warn("invalid cron expression", "expr", cfg.Schedule, "error", err)
				}
			}
			sched.SetPaused(cfg.ScanPaused)
			sched.Start()
			defer sched.Stop()

			srv := api.New(cfg.HTTPAddr, api.Deps{
				Store:   store,
				History: history,
				Config:  cfg,
				Manager: mgr,
				Sched:   sched,
				Version: Version,
				BaseCtx: ctx,
			})
			err = srv.Run(ctx)

			// Cancelling ctx stops a running scan, which records itself as
			// cancelled.
			stop()
			waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if werr := mgr.Wait(waitCtx); werr != nil {
				slog.Warn("scan did not stop in time", "error", werr)
			}
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			slog.Info("dupecat stopped")
			return nil
		},
	}
	f := cmd.Flags()
	f.String("addr", "", "HTTP listen address (default from config: :8080)")
	f.String("db", "", "catalog database path")
	f.String("root", "", "tree scanned by API and scheduled scans")
	return cmd
}
