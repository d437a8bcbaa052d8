// Package status aggregates generation-status messages into a deduplicated,
// ordered log.
package status

import (
	"sync"
)

// Phase is the local view of a status message.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseProcessing Phase = "processing"
	PhaseCompleted  Phase = "completed"
)

var phases = map[string]Phase{
	"pending":    PhasePending,
	"planning":   PhaseProcessing,
	"processing": PhaseProcessing,
	"generating": PhaseProcessing,
	"completed":  PhaseCompleted,
	"failed":     PhaseCompleted,
}

// PhaseFor maps a backend status keyword to a phase. Unknown keywords are
// treated as processing.
func PhaseFor(status string) Phase {
	if p, ok := phases[status]; ok {
		return p
	}
	return PhaseProcessing
}

func isTerminal(status string) bool {
	return status == "completed" || status == "failed"
}

// Entry is one aggregated status line.
type Entry struct {
	Message  string
	Phase    Phase
	Status   string
	Progress float64
	Sequence int
}

// Aggregator owns the status log.
type Aggregator struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
	next    int
	active  bool
	failed  bool
}

// NewAggregator creates an empty log.
func NewAggregator() *Aggregator {
	return &Aggregator{index: make(map[string]int)}
}

// Apply records a status event. An event whose message matches an existing
// entry updates that entry in place; otherwise it is appended. It returns the
// resulting entry and whether it was appended.
func (a *Aggregator) Apply(status, message string, progress float64) (Entry, bool) {
	if message == "" {
		message = status
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.active = !isTerminal(status)
	a.failed = status == "failed"

	if i, ok := a.index[message]; ok {
		e := &a.entries[i]
		e.Phase = PhaseFor(status)
		e.Status = status
		e.Progress = progress
		return *e, false
	}

	e := Entry{
		Message:  message,
		Phase:    PhaseFor(status),
		Status:   status,
		Progress: progress,
		Sequence: a.next,
	}
	a.next++
	a.index[message] = len(a.entries)
	a.entries = append(a.entries, e)
	return e, true
}

// Entries returns a copy of the log in insertion order.
func (a *Aggregator) Entries() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Entry(nil), a.entries...)
}

// Active reports whether a generation job is running: the most recent status
// was not terminal.
func (a *Aggregator) Active() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.active
}

// Failed reports whether the most recent status was "failed".
func (a *Aggregator) Failed() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.failed
}

// Reset clears the log, e.g. when a new generation starts.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
	a.index = make(map[string]int)
	a.next = 0
	a.active = false
	a.failed = false
}
