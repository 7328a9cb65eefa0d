package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/eargollo/dupecat/internal/scan"
)

// isTerminal reports whether f is an interactive terminal.
func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// progressBar polls scan.Progress and renders it. The walk shows a spinner
// with a file count; hashing switches to a byte-based bar.
type progressBar struct {
	bar  *progressbar.ProgressBar
	p    *scan.Progress
	stop chan struct{}
	done chan struct{}

	hashing bool
}

func startProgressBar(p *scan.Progress, w io.Writer) *progressBar {
	b := &progressBar{
		p:    p,
		stop: make(chan struct{}),
		done: make(chan struct{}),
		bar: progressbar.NewOptions64(
			-1,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetDescription("walking"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(120*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		),
	}
	go b.loop()
	return b
}

func (b *progressBar) loop() {
	defer close(b.done)
	t := time.NewTicker(200 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.update()
		case <-b.stop:
			_ = b.bar.Finish()
			return
		}
	}
}

func (b *progressBar) update() {
	switch phase := b.p.CurrentPhase(); phase {
	case scan.PhaseHash:
		if !b.hashing {
			b.hashing = true
			b.bar.ChangeMax64(max(b.p.BytesTotal.Load(), 1))
		}
		_ = b.bar.Set64(b.p.BytesRead.Load())
		b.bar.Describe(fmt.Sprintf("hashing %d/%d files", b.p.Hashed.Load(), b.p.HashTotal.Load()))
	case scan.PhaseWalk, "":
		b.bar.Describe(fmt.Sprintf("walking: %d files", b.p.FilesDiscovered.Load()))
	default:
		b.bar.Describe(phase)
	}
}

// Stop halts rendering and clears the bar. Safe on a nil bar.
func (b *progressBar) Stop() {
	if b == nil {
		return
	}
	close(b.stop)
	<-b.done
}
