package scan

import "sync/atomic"

// Progress holds live counters updated by the pipeline stages.
// All fields are atomic so they can be written from worker goroutines and
// read from the HTTP handler or the progress bar without locks.
type Progress struct {
	// Phase 1: walk and reconcile
	FilesDiscovered atomic.Int64
	Inserted        atomic.Int64
	Updated         atomic.Int64
	Unchanged       atomic.Int64
	// Phase 2: candidate selection
	CandidatesFound atomic.Int64
	// Phase 3: hashing
	HashTotal  atomic.Int64 // files queued for hashing
	BytesTotal atomic.Int64 // bytes queued for hashing
	Hashed     atomic.Int64
	BytesRead  atomic.Int64
	// Warnings counts SkippedEntry and StaleRead events.
	Warnings atomic.Int64
	// Phase is the name of the stage currently running.
	Phase atomic.Value
}

// Phase names reported through Progress.Phase.
const (
	PhaseWalk   = "walk"
	PhaseSelect = "select"
	PhaseHash   = "hash"
	PhaseVerify = "verify"
	PhaseReport = "report"
)

// CurrentPhase returns the running stage, or "" before the run starts.
func (p *Progress) CurrentPhase() string {
	s, _ := p.Phase.Load().(string)
	return s
}

func (p *Progress) setPhase(name string) {
	if p != nil {
		p.Phase.Store(name)
	}
}
