package report

import (
	"cmp"
	"encoding/csv"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/eargollo/dupecat/internal/catalog"
)

// TimeLayout formats the mtime column.
const TimeLayout = time.RFC3339

// Options controls CSV rendering.
type Options struct {
	// Algorithm names the digest column. Defaults to "md5".
	Algorithm string
	// NoHeader omits the column header row.
	NoHeader bool
	// ByLocation orders every row by location instead of keeping groups
	// contiguous. Groups can then only be rebuilt by sorting on the digest.
	ByLocation bool
}

// Header returns the column names for algo.
func Header(algo string) []string {
	if algo == "" {
		algo = "md5"
	}
	return []string{"location", algo, "size", "mtime", "name", "ext"}
}

// Row renders one record.
func Row(rec catalog.FileRecord) []string {
	return []string{
		rec.Path,
		rec.Checksum,
		strconv.FormatInt(rec.Size, 10),
		rec.MTime.UTC().Format(TimeLayout),
		rec.Name(),
		rec.Ext(),
	}
}

// WriteCSV writes one row per duplicate file. Rows of a group are contiguous
// and there are no group header or trailer rows: consecutive equal
// (size, digest) pairs delimit a group.
func WriteCSV(w io.Writer, groups []Group, opts Options) error {
	cw := csv.NewWriter(w)
	if !opts.NoHeader {
		if err := cw.Write(Header(opts.Algorithm)); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}

	for _, rec := range rows(groups, opts.ByLocation) {
		if err := cw.Write(Row(rec)); err != nil {
			return fmt.Errorf("write csv row %s: %w", rec.Path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func rows(groups []Group, byLocation bool) []catalog.FileRecord {
	var recs []catalog.FileRecord
	for _, g := range groups {
		recs = append(recs, g.Records...)
	}
	if byLocation {
		slices.SortStableFunc(recs, func(a, b catalog.FileRecord) int { return cmp.Compare(a.Path, b.Path) })
	}
	return recs
}
