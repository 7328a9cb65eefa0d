package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/eargollo/dupecat/internal/catalog"
	"github.com/eargollo/dupecat/internal/report"
)

// memberError names the group member whose open or read failed.
type memberError struct {
	Path string
	Err  error
}

func (e *memberError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }

func (e *memberError) Unwrap() error { return e.Err }

// VerifyGroups byte-compares the members of every group and splits any group
// whose members turn out to differ. Members that cannot be read are reported
// as StaleRead and dropped; an unreadable representative hands its class to
// the next member. Only subgroups of two or more survive. timeout bounds each
// pairwise comparison; zero disables it.
func VerifyGroups(ctx context.Context, root string, groups []report.Group, timeout time.Duration, progress *Progress, rep WarningReporter) ([]report.Group, error) {
	progress.setPhase(PhaseVerify)

	var out []report.Group
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// classes[i][0] is the representative every other member of the
		// class was compared against.
		var classes [][]catalog.FileRecord
	members:
		for _, rec := range g.Records {
			for i := 0; i < len(classes); {
				same, err := sameContent(ctx, root, classes[i][0], rec, timeout)
				if err != nil {
					if ctx.Err() != nil {
						return nil, ctx.Err()
					}
					failed := rec.Path
					var me *memberError
					if errors.As(err, &me) {
						failed = me.Path
					}
					if rep != nil {
						rep(Warning{Kind: StaleRead, Path: failed, Stage: "verify", Err: err})
					}
					if failed != classes[i][0].Path {
						continue members
					}
					classes[i] = classes[i][1:]
					if len(classes[i]) == 0 {
						classes = slices.Delete(classes, i, i+1)
					}
					continue
				}
				if same {
					classes[i] = append(classes[i], rec)
					continue members
				}
				i++
			}
			classes = append(classes, []catalog.FileRecord{rec})
		}

		if len(classes) > 1 {
			slog.Warn("digest collision: group members differ byte-wise",
				"checksum", g.Checksum, "size", g.Size, "classes", len(classes))
		}
		for _, class := range classes {
			if len(class) >= 2 {
				out = append(out, report.Group{Size: g.Size, Checksum: g.Checksum, Records: class})
			}
		}
	}
	return out, nil
}

// sameContent streams both files side by side in fixed-size chunks. Open and
// read failures come back as *memberError naming the failing file.
func sameContent(ctx context.Context, root string, a, b catalog.FileRecord, timeout time.Duration) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fa, _, err := openRegular(ctx, filepath.Join(root, filepath.FromSlash(a.Path)), timeout)
	if err != nil {
		return false, &memberError{Path: a.Path, Err: err}
	}
	fb, _, err := openRegular(ctx, filepath.Join(root, filepath.FromSlash(b.Path)), timeout)
	if err != nil {
		fa.Close()
		return false, &memberError{Path: b.Path, Err: err}
	}

	type compareResult struct {
		same bool
		err  error
	}
	done := make(chan compareResult, 1)
	go func() {
		same, err := compareReaders(ctxReader{ctx: ctx, r: fa}, ctxReader{ctx: ctx, r: fb}, a.Path, b.Path)
		done <- compareResult{same, err}
	}()

	select {
	case res := <-done:
		fa.Close()
		fb.Close()
		if res.err == nil || ctx.Err() == nil {
			return res.same, res.err
		}
	case <-ctx.Done():
		fa.Close()
		fb.Close()
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false, fmt.Errorf("compare %s with %s timed out after %s", a.Path, b.Path, timeout)
	}
	return false, ctx.Err()
}

func compareReaders(ra, rb io.Reader, pathA, pathB string) (bool, error) {
	bufA := make([]byte, chunkSize)
	bufB := make([]byte, chunkSize)
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if errA != nil && errA != io.EOF && errA != io.ErrUnexpectedEOF {
			return false, &memberError{Path: pathA, Err: errA}
		}
		if errB != nil && errB != io.EOF && errB != io.ErrUnexpectedEOF {
			return false, &memberError{Path: pathB, Err: errB}
		}
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if errA != nil || errB != nil {
			// Both hit EOF at the same offset.
			return errA != nil && errB != nil, nil
		}
	}
}

