// Package report turns hashed catalog records into duplicate groups and
// renders them as CSV.
package report

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/eargollo/dupecat/internal/catalog"
)

// Group is a set of two or more records with identical size and checksum.
type Group struct {
	Size     int64
	Checksum string
	Records  []catalog.FileRecord
}

// Reclaimable is the space freed by keeping a single copy.
func (g Group) Reclaimable() int64 {
	return g.Size * int64(len(g.Records)-1)
}

type groupKey struct {
	size     int64
	checksum string
}

// Build groups hashed records by (size, checksum) and drops singletons.
// If observed is non-nil only those paths take part. Groups are ordered by
// checksum then size, members by path, so identical input always yields the
// same report.
func Build(recs []catalog.FileRecord, observed map[string]struct{}) []Group {
	byKey := make(map[groupKey][]catalog.FileRecord)
	for _, rec := range recs {
		if !rec.HasChecksum() {
			continue
		}
		if observed != nil {
			if _, ok := observed[rec.Path]; !ok {
				continue
			}
		}
		k := groupKey{rec.Size, rec.Checksum}
		byKey[k] = append(byKey[k], rec)
	}

	groups := make([]Group, 0, len(byKey))
	for k, members := range byKey {
		if len(members) < 2 {
			continue
		}
		slices.SortFunc(members, func(a, b catalog.FileRecord) int { return cmp.Compare(a.Path, b.Path) })
		groups = append(groups, Group{Size: k.size, Checksum: k.checksum, Records: members})
	}
	slices.SortFunc(groups, compareGroups)
	return groups
}

func compareGroups(a, b Group) int {
	return cmp.Or(cmp.Compare(a.Checksum, b.Checksum), cmp.Compare(a.Size, b.Size))
}

// FromStore loads hashed records from store and groups them.
func FromStore(ctx context.Context, store catalog.Store, observed map[string]struct{}) ([]Group, error) {
	recs, err := store.Hashed(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hashed records: %w", err)
	}
	return Build(recs, observed), nil
}

// OnlyAlgorithm drops members hashed with another algorithm, then any group
// left with fewer than two members. A catalog can mix algorithms when the
// configured one changes between runs.
func OnlyAlgorithm(groups []Group, algo string) []Group {
	out := groups[:0]
	for _, g := range groups {
		kept := g.Records[:0]
		for _, rec := range g.Records {
			if rec.Algorithm == algo {
				kept = append(kept, rec)
			}
		}
		if len(kept) >= 2 {
			g.Records = kept
			out = append(out, g)
		}
	}
	return out
}

// WithoutEmpty drops groups of zero-byte files.
func WithoutEmpty(groups []Group) []Group {
	out := groups[:0]
	for _, g := range groups {
		if g.Size > 0 {
			out = append(out, g)
		}
	}
	return out
}

// Filter selects which catalog groups a report shows.
type Filter struct {
	Algorithm string
	SkipEmpty bool
}

// Load groups the hashed records in store and applies f, giving the same
// groups a scan with the same settings would report.
func Load(ctx context.Context, store catalog.Store, f Filter) ([]Group, error) {
	groups, err := FromStore(ctx, store, nil)
	if err != nil {
		return nil, err
	}
	groups = OnlyAlgorithm(groups, f.Algorithm)
	if f.SkipEmpty {
		groups = WithoutEmpty(groups)
	}
	return groups, nil
}

// Summary aggregates a report.
type Summary struct {
	Groups           int
	Files            int
	ReclaimableBytes int64
}

// Summarize counts groups, member files and reclaimable bytes.
func Summarize(groups []Group) Summary {
	var s Summary
	for _, g := range groups {
		s.Groups++
		s.Files += len(g.Records)
		s.ReclaimableBytes += g.Reclaimable()
	}
	return s
}
