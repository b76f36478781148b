// Package progress tracks work units for long-running pipeline stages.
//
// A Reporter is created by the command, handed explicitly to the scanner and
// executor, and observed by whichever renderer the command picked (progress
// bar or sampled log lines). Counters are atomic; updates are published on a
// buffered channel and dropped when the observer falls behind, so reporting
// never slows the work it measures. A nil *Reporter is valid and ignores all
// calls.
package progress

import (
	"sync"
	"sync/atomic"
)

// Phases reported by the pipeline.
const (
	PhaseScan     = "scan"
	PhaseOrganize = "organize"
	PhaseDelete   = "delete"
)

// Update is a point-in-time view of a phase. Total may grow while the phase
// runs (the scanner discovers files as it walks).
type Update struct {
	Phase     string
	Processed int64
	Total     int64
	Path      string
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (u Update) Percent() float64 {
	if u.Total <= 0 {
		return -1
	}
	pct := float64(u.Processed) / float64(u.Total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// Reporter aggregates progress counters and fans updates out to one observer.
type Reporter struct {
	processed atomic.Int64
	total     atomic.Int64

	mu      sync.RWMutex
	phase   string
	closed  bool
	updates chan Update
}

// NewReporter creates a reporter whose update channel holds buffer pending
// updates. A buffer below 1 is raised to 1.
func NewReporter(buffer int) *Reporter {
	if buffer < 1 {
		buffer = 1
	}
	return &Reporter{updates: make(chan Update, buffer)}
}

// Start resets the counters for a new phase with an initial total.
func (r *Reporter) Start(phase string, total int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
	r.processed.Store(0)
	r.total.Store(total)
	r.publish("")
}

// AddTotal grows the expected number of work units.
func (r *Reporter) AddTotal(n int64) {
	if r == nil || n == 0 {
		return
	}
	r.total.Add(n)
	r.publish("")
}

// Done records one completed work unit.
func (r *Reporter) Done(path string) {
	if r == nil {
		return
	}
	r.processed.Add(1)
	r.publish(path)
}

// Snapshot returns the current counters.
func (r *Reporter) Snapshot() Update {
	if r == nil {
		return Update{}
	}
	r.mu.RLock()
	phase := r.phase
	r.mu.RUnlock()
	return Update{Phase: phase, Processed: r.processed.Load(), Total: r.total.Load()}
}

// Updates returns the channel observers read from. It is closed by Close.
func (r *Reporter) Updates() <-chan Update {
	if r == nil {
		ch := make(chan Update)
		close(ch)
		return ch
	}
	return r.updates
}

// Close stops publishing and closes the update channel. Counters remain
// readable through Snapshot.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.updates)
}

func (r *Reporter) publish(path string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	update := Update{Phase: r.phase, Processed: r.processed.Load(), Total: r.total.Load(), Path: path}
	select {
	case r.updates <- update:
	default:
	}
}
