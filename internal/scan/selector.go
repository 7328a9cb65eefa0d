package scan

import (
	"context"
	"fmt"

	"github.com/eargollo/dupecat/internal/catalog"
)

// SelectOptions narrows which records may become hashing candidates.
type SelectOptions struct {
	// Observed restricts candidates to paths seen by the current scan.
	// Nil means every catalogued record is eligible.
	Observed map[string]struct{}
	// SkipEmpty drops zero-byte files.
	SkipEmpty bool
}

// SelectCandidates returns, in ascending size order, every size shared by at
// least two eligible records. A file with a unique size is never returned and
// so is never hashed.
func SelectCandidates(ctx context.Context, store catalog.Store, opts SelectOptions, progress *Progress) ([]catalog.SizeGroup, error) {
	groups, err := store.GroupBySize(ctx, 2)
	if err != nil {
		return nil, fmt.Errorf("group by size: %w", err)
	}

	out := groups[:0]
	var n int64
	for _, g := range groups {
		if opts.SkipEmpty && g.Size == 0 {
			continue
		}
		if opts.Observed != nil {
			kept := g.Records[:0]
			for _, rec := range g.Records {
				if _, ok := opts.Observed[rec.Path]; ok {
					kept = append(kept, rec)
				}
			}
			g.Records = kept
		}
		if len(g.Records) < 2 {
			continue
		}
		out = append(out, g)
		n += int64(len(g.Records))
	}
	if progress != nil {
		progress.CandidatesFound.Store(n)
	}
	return out, nil
}

// CountRecords is the number of records across groups.
func CountRecords(groups []catalog.SizeGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.Records)
	}
	return n
}
