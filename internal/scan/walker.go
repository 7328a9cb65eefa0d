package scan

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// FileInfo is a regular file emitted by the walker.
type FileInfo struct {
	Path  string // relative to the root, forward slashes
	Size  int64
	MTime time.Time
}

// WalkOptions controls traversal policy.
type WalkOptions struct {
	Workers        int
	FollowSymlinks bool
	// Excludes matches either a root-relative path or a base name.
	Excludes map[string]struct{}
}

// dirItem is a directory waiting to be read.
type dirItem struct {
	abs string
	rel string
}

// dirQueue is an unbounded, concurrency-safe queue of directories.
// It tracks a pending counter so that Walk() knows when all work is done.
//
// Termination protocol:
//   - Push increments pending BEFORE enqueuing (caller must own the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the queue and broadcasts.
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []dirItem
	head    int
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a directory. Must be called after incrementing pending.
func (q *dirQueue) Push(d dirItem) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
func (q *dirQueue) Pop() (dirItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head >= len(q.items) {
		return dirItem{}, false
	}
	item := q.items[q.head]
	q.items[q.head] = dirItem{}
	q.head++
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

// Done must be called once per directory after all its child directories have
// been pushed.
func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.close()
	}
}

// close wakes every blocked Pop; used on completion and on cancellation.
func (q *dirQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// visitedSet holds the identities of directories entered during one Walk
// call when symlinks are followed.
type visitedSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// add reports false if id was already present.
func (v *visitedSet) add(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.seen[id]; ok {
		return false
	}
	v.seen[id] = struct{}{}
	return true
}

// CheckRoot returns a *FatalScanError unless root is a readable directory.
func CheckRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return &FatalScanError{Root: root, Err: err}
	}
	if !info.IsDir() {
		return &FatalScanError{Root: root, Err: errNotDir}
	}
	f, err := os.Open(root)
	if err != nil {
		return &FatalScanError{Root: root, Err: err}
	}
	return f.Close()
}

// Walk traverses root with opts.Workers goroutines and sends every regular
// file to out, closing out when done. Unreadable entries are passed to report
// and skipped. Walk returns a *FatalScanError if the root itself cannot be
// read, and ctx.Err() if it was cancelled.
func Walk(ctx context.Context, root string, opts WalkOptions, out chan<- FileInfo, report WarningReporter) error {
	defer close(out)

	if err := CheckRoot(root); err != nil {
		return err
	}

	w := &walker{opts: opts, out: out, report: report, q: newDirQueue()}
	if opts.FollowSymlinks {
		w.visited = &visitedSet{seen: make(map[string]struct{})}
		if info, err := os.Stat(root); err == nil {
			w.visited.add(dirIdentity(root, info))
		}
	}

	w.q.pending.Add(1)
	w.q.Push(dirItem{abs: root, rel: ""})

	stop := context.AfterFunc(ctx, w.q.close)
	defer stop()

	var wg sync.WaitGroup
	for range max(opts.Workers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.work(ctx)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

type walker struct {
	opts    WalkOptions
	out     chan<- FileInfo
	report  WarningReporter
	q       *dirQueue
	visited *visitedSet
}

func (w *walker) warn(rel string, err error) {
	if w.report != nil {
		w.report(Warning{Kind: SkippedEntry, Path: displayPath(rel), Stage: "walk", Err: err})
	}
}

// work pops directories, enqueues sub-directories (incrementing pending
// first), sends files to out, then marks the directory done.
func (w *walker) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		dir, ok := w.q.Pop()
		if !ok {
			return
		}
		if !w.readDir(ctx, dir) {
			return
		}
		w.q.Done()
	}
}

// readDir processes one directory. It returns false if ctx was cancelled
// while sending. Entries read before a ReadDir error are still processed.
func (w *walker) readDir(ctx context.Context, dir dirItem) bool {
	entries, readErr := os.ReadDir(dir.abs)

	for _, entry := range entries {
		abs := filepath.Join(dir.abs, entry.Name())
		rel := path.Join(dir.rel, entry.Name())
		if w.excluded(rel, entry.Name()) {
			continue
		}

		var (
			info fs.FileInfo
			err  error
		)
		switch {
		case entry.Type()&fs.ModeSymlink != 0:
			if !w.opts.FollowSymlinks {
				slog.Debug("walk: skip symlink", "path", rel)
				continue
			}
			info, err = os.Stat(abs)
			if err != nil {
				w.warn(rel, fmt.Errorf("follow symlink: %w", err))
				continue
			}
		case entry.IsDir():
			if w.visited != nil {
				info, err = entry.Info()
				if err != nil {
					w.warn(rel, err)
					continue
				}
			} else {
				w.push(abs, rel)
				continue
			}
		case entry.Type().IsRegular():
			info, err = entry.Info()
			if err != nil {
				w.warn(rel, err)
				continue
			}
		default:
			// devices, sockets, named pipes
			continue
		}

		if info.IsDir() {
			if !w.visited.add(dirIdentity(abs, info)) {
				w.warn(rel, fmt.Errorf("directory already visited, skipping to break a cycle"))
				continue
			}
			w.push(abs, rel)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		select {
		case <-ctx.Done():
			return false
		case w.out <- FileInfo{Path: rel, Size: info.Size(), MTime: info.ModTime()}:
		}
	}
	if readErr != nil {
		w.warn(dir.rel, readErr)
	}
	return true
}

func (w *walker) push(abs, rel string) {
	// Increment BEFORE pushing so pending is never zero prematurely.
	w.q.pending.Add(1)
	w.q.Push(dirItem{abs: abs, rel: rel})
}

func (w *walker) excluded(rel, name string) bool {
	if len(w.opts.Excludes) == 0 {
		return false
	}
	if _, ok := w.opts.Excludes[rel]; ok {
		return true
	}
	_, ok := w.opts.Excludes[name]
	return ok
}

// displayPath renders the root itself as "." in warnings.
func displayPath(rel string) string {
	if rel == "" {
		return "."
	}
	return rel
}
