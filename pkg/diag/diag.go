// Package diag carries the diagnostic trail attached to a scan result.
// Diagnostics record degraded-but-not-fatal conditions.
package diag

import (
	"fmt"
	"sort"
	"sync"
)

// Kind classifies a diagnostic.
type Kind string

const (
	FactRejected         Kind = "fact_rejected"
	ExtractorFailed      Kind = "extractor_failed"
	IdentityConflict     Kind = "identity_conflict"
	DanglingReference    Kind = "dangling_reference"
	ReferenceAbsorbed    Kind = "reference_absorbed"
	RuleExecutionFailure Kind = "rule_execution_failure"
	SnapshotCorrupt      Kind = "snapshot_corrupt"
)

// Diagnostic is one entry in the trail. Source names the extractor, rule,
// fact or snapshot the entry is about.
type Diagnostic struct {
	Kind    Kind   `json:"kind"`
	Source  string `json:"source,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Source == "" {
		return fmt.Sprintf("[%s] %s", d.Kind, d.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", d.Kind, d.Source, d.Message)
}

// Trail is a concurrency-safe diagnostic collector.
type Trail struct {
	mu    sync.Mutex
	items []Diagnostic
}

// NewTrail creates an empty trail.
func NewTrail() *Trail {
	return &Trail{}
}

// Add records a diagnostic.
func (t *Trail) Add(kind Kind, source, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	t.mu.Lock()
	t.items = append(t.items, Diagnostic{Kind: kind, Source: source, Message: msg})
	t.mu.Unlock()
}

// Append records already-built diagnostics.
func (t *Trail) Append(items ...Diagnostic) {
	t.mu.Lock()
	t.items = append(t.items, items...)
	t.mu.Unlock()
}

// Items returns a sorted copy of the trail. Entries added concurrently are
// ordered by kind, source and message so the trail is reproducible.
func (t *Trail) Items() []Diagnostic {
	t.mu.Lock()
	out := make([]Diagnostic, len(t.items))
	copy(out, t.items)
	t.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Message < out[j].Message
	})
	return out
}

// Count returns the number of diagnostics of a kind.
func (t *Trail) Count(kind Kind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, d := range t.items {
		if d.Kind == kind {
			n++
		}
	}
	return n
}

// Len returns the number of diagnostics.
func (t *Trail) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.items)
}
