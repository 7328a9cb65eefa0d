package cmd

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/eargollo/dupecat/internal/report"
	"github.com/eargollo/dupecat/internal/scan"
)

// printSummary writes the end-of-run summary. Colour is dropped
// automatically when w is not a terminal.
func printSummary(w io.Writer, res *scan.Result, reportPath string) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Fprintln(w)
	bold.Fprintln(w, "=== Scan Summary ===")
	rs := res.Reconcile
	fmt.Fprintf(w, "  Files seen:  %d (%d new, %d changed, %d unchanged)\n", rs.Seen, rs.Inserted, rs.Updated, rs.Unchanged)
	if rs.Missing > 0 {
		fmt.Fprintf(w, "  Missing:     %d (%d pruned)\n", rs.Missing, rs.Pruned)
	}
	fmt.Fprintf(w, "  Candidates:  %d (%d hashed, %d reused, %s read)\n",
		res.Candidates, res.Hash.Hashed, res.Hash.Reused, humanize.IBytes(uint64(res.Hash.BytesRead)))

	printGroupTotals(w, res.Summary)

	if res.Warnings > 0 {
		yellow.Fprintf(w, "  Warnings:    %d (see log)\n", res.Warnings)
	}
	fmt.Fprintf(w, "  Duration:    %s\n", elapsed(res.Duration))
	if reportPath != report.Stdout {
		green.Fprintf(w, "  Report:      %s\n", reportPath)
	}
}

func printGroupTotals(w io.Writer, s report.Summary) {
	if s.Groups == 0 {
		color.New(color.FgGreen).Fprintln(w, "  No duplicates found")
		return
	}
	fmt.Fprintf(w, "  Duplicates:  %d files in %d groups\n", s.Files, s.Groups)
	color.New(color.FgCyan).Fprintf(w, "  Reclaimable: %s\n", humanize.IBytes(uint64(s.ReclaimableBytes)))
}
