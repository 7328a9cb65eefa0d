package scan

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/eargollo/dupecat/internal/catalog"
)

// errSizeChanged is wrapped into a StaleRead when a file no longer has the
// size it was catalogued with.
var errSizeChanged = errors.New("size changed since cataloging")

// HashOptions configures the hashing phase.
type HashOptions struct {
	Algorithm string
	Workers   int
	// Timeout bounds the read of a single file. Zero disables it.
	Timeout time.Duration
	// BatchSize is the number of digests written per store transaction.
	BatchSize int
}

// HashStats summarises the hashing phase.
type HashStats struct {
	Hashed    int64 // digests computed in this run
	Reused    int64 // candidates whose stored digest was still valid
	Failed    int64 // StaleRead failures
	BytesRead int64
}

type hashJob struct {
	rec catalog.FileRecord
}

type hashResult struct {
	rec catalog.FileRecord
	n   int64
	err error
}

// HashCandidates computes digests for every candidate record that lacks a
// valid one and writes them back to store. Failed files are marked Stale and
// reported; they never abort the run. Only store failures and cancellation
// are returned as errors.
func HashCandidates(ctx context.Context, store catalog.Store, root string, groups []catalog.SizeGroup, opts HashOptions, progress *Progress, report WarningReporter) (HashStats, error) {
	var stats HashStats
	if progress == nil {
		progress = &Progress{}
	}

	var jobs []hashJob
	for _, g := range groups {
		for _, rec := range g.Records {
			if rec.NeedsHash(opts.Algorithm) {
				jobs = append(jobs, hashJob{rec: rec})
				progress.BytesTotal.Add(rec.Size)
			} else {
				stats.Reused++
			}
		}
	}
	progress.HashTotal.Store(int64(len(jobs)))
	if len(jobs) == 0 {
		return stats, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobCh := make(chan hashJob)
	results := make(chan hashResult, max(opts.Workers, 1))

	go func() {
		defer close(jobCh)
		for _, j := range jobs {
			select {
			case jobCh <- j:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range max(opts.Workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				abs := filepath.Join(root, filepath.FromSlash(j.rec.Path))
				sum, n, err := hashFile(ctx, abs, j.rec.Size, opts.Algorithm, opts.Timeout)
				rec := j.rec
				if err == nil {
					rec.SetChecksum(opts.Algorithm, sum)
				}
				select {
				case results <- hashResult{rec: rec, n: n, err: err}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	batchSize := max(opts.BatchSize, 1)
	pending := make([]catalog.FileRecord, 0, batchSize)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		// Digests already paid for survive cancellation.
		if err := store.UpsertBatch(context.WithoutCancel(ctx), pending); err != nil {
			return fmt.Errorf("store digests: %w", err)
		}
		pending = pending[:0]
		return nil
	}

	var storeErr error
	for res := range results {
		if storeErr != nil {
			continue
		}
		stats.BytesRead += res.n
		progress.BytesRead.Add(res.n)
		progress.Hashed.Add(1)

		if res.err != nil {
			if ctx.Err() != nil && errors.Is(res.err, context.Canceled) {
				continue
			}
			stats.Failed++
			if report != nil {
				report(Warning{Kind: StaleRead, Path: res.rec.Path, Stage: "hash", Err: res.err})
			}
			res.rec.Invalidate()
		} else {
			stats.Hashed++
		}
		pending = append(pending, res.rec)
		if len(pending) >= batchSize {
			if storeErr = flush(); storeErr != nil {
				cancel()
			}
		}
	}
	if storeErr != nil {
		return stats, storeErr
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, ctx.Err()
}

// hashFile streams the file at path through algo in fixed-size chunks. It
// fails if the file is no longer regular, no longer has wantSize bytes, or
// cannot be opened and read within timeout.
func hashFile(ctx context.Context, path string, wantSize int64, algo string, timeout time.Duration) (string, int64, error) {
	h, err := newDigest(algo)
	if err != nil {
		return "", 0, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	f, info, err := openRegular(ctx, path, timeout)
	if err != nil {
		return "", 0, err
	}
	if info.Size() != wantSize {
		f.Close()
		return "", 0, fmt.Errorf("%w: catalogued %d, now %d", errSizeChanged, wantSize, info.Size())
	}

	n, err := copyWithDeadline(ctx, h, f, timeout)
	if err != nil {
		return "", n, err
	}
	if n != wantSize {
		return "", n, fmt.Errorf("%w: catalogued %d, read %d", errSizeChanged, wantSize, n)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

type openResult struct {
	f    *os.File
	info fs.FileInfo
	err  error
}

// openRegular opens path for reading only if it is a regular file. Non-regular
// files are rejected by stat before any open, and the open is non-blocking so
// a file swapped for a FIFO in between cannot hang it. An open still pending
// when ctx is done is abandoned and its file closed once it returns.
func openRegular(ctx context.Context, path string, timeout time.Duration) (*os.File, fs.FileInfo, error) {
	done := make(chan openResult, 1)
	go func() {
		done <- openRegularNow(path)
	}()

	select {
	case res := <-done:
		return res.f, res.info, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.f != nil {
				res.f.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("open timed out after %s", timeout)
		}
		return nil, nil, ctx.Err()
	}
}

func openRegularNow(path string) openResult {
	info, err := os.Stat(path)
	if err != nil {
		return openResult{err: err}
	}
	if !info.Mode().IsRegular() {
		return openResult{err: fmt.Errorf("not a regular file: %s", info.Mode())}
	}
	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return openResult{err: err}
	}
	info, err = f.Stat()
	if err != nil {
		f.Close()
		return openResult{err: err}
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return openResult{err: fmt.Errorf("not a regular file: %s", info.Mode())}
	}
	return openResult{f: f, info: info}
}

// copyWithDeadline copies src into dst and closes src. A read that outlives
// timeout or ctx is abandoned: src is closed to unblock it and the copy
// goroutine is left to finish on its own.
func copyWithDeadline(ctx context.Context, dst io.Writer, src *os.File, timeout time.Duration) (int64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type copyResult struct {
		n   int64
		err error
	}
	done := make(chan copyResult, 1)
	go func() {
		bufPtr := bufferPool.Get().(*[]byte)
		defer bufferPool.Put(bufPtr)
		n, err := io.CopyBuffer(dst, ctxReader{ctx: ctx, r: src}, *bufPtr)
		done <- copyResult{n, err}
	}()

	select {
	case res := <-done:
		src.Close()
		return res.n, res.err
	case <-ctx.Done():
		src.Close()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("read timed out after %s", timeout)
		}
		return 0, ctx.Err()
	}
}

// ctxReader stops between chunks once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
