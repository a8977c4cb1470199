// Package snapshot persists scan results. A snapshot is written once and
// never modified; stores reject a second write of the same scan id.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
)

// Metadata describes a snapshot without its payload.
type Metadata struct {
	ScanID     string    `json:"scan_id"`
	TargetID   string    `json:"target_id"`
	TargetPath string    `json:"target_path"`
	CreatedAt  time.Time `json:"created_at"`
	Entities   int       `json:"entities"`
	Relations  int       `json:"relations"`
	Findings   int       `json:"findings"`
	Dangling   int       `json:"dangling"`
}

// Snapshot is one persisted scan.
type Snapshot struct {
	Metadata    Metadata          `json:"metadata"`
	Graph       *graph.Graph      `json:"graph"`
	Findings    []finding.Finding `json:"findings"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty"`
}

// New assembles a snapshot and fills in its counts. The scan id and
// creation time come from the graph.
func New(targetID, targetPath string, g *graph.Graph, findings []finding.Finding, diagnostics []diag.Diagnostic) *Snapshot {
	return &Snapshot{
		Metadata: Metadata{
			ScanID:     g.ScanID,
			TargetID:   targetID,
			TargetPath: targetPath,
			CreatedAt:  g.CreatedAt.UTC(),
			Entities:   len(g.Entities),
			Relations:  len(g.Relations),
			Findings:   len(findings),
			Dangling:   len(g.Dangling),
		},
		Graph:       g,
		Findings:    findings,
		Diagnostics: diagnostics,
	}
}

// TargetID derives the stable identifier of a scanned directory: the first
// 16 hex characters of the SHA-256 of its absolute path.
func TargetID(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve target path: %w", err)
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16], nil
}

var scanIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidScanID reports whether id is safe to use as a key in every backend.
func ValidScanID(id string) bool { return scanIDPattern.MatchString(id) }

// Store persists snapshots.
type Store interface {
	// Put writes a new snapshot. Writing an existing scan id fails with
	// ErrSnapshotExists and leaves the stored copy untouched.
	Put(ctx context.Context, s *Snapshot) error
	// Get reads a snapshot. Missing ids give ErrNotFound; unreadable data
	// gives a *CorruptError.
	Get(ctx context.Context, scanID string) (*Snapshot, error)
	// List returns the snapshots of a target, newest first.
	List(ctx context.Context, targetID string) ([]Metadata, error)
	// Latest returns the newest snapshot of a target or ErrNotFound.
	Latest(ctx context.Context, targetID string) (*Snapshot, error)
	Close() error
}

// SortNewestFirst orders metadata by creation time, newest first, breaking
// ties by scan id.
func SortNewestFirst(ms []Metadata) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.After(ms[j].CreatedAt)
		}
		return ms[i].ScanID > ms[j].ScanID
	})
}

// latest implements Store.Latest on top of List and Get.
func latest(ctx context.Context, s Store, targetID string) (*Snapshot, error) {
	ms, err := s.List(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, NewError("latest").Context("target " + targetID).Cause(ErrNotFound).Err()
	}
	return s.Get(ctx, ms[0].ScanID)
}

func checkPut(s *Snapshot) error {
	if s == nil || s.Graph == nil {
		return NewError("put").Cause(fmt.Errorf("snapshot without graph")).Err()
	}
	if !ValidScanID(s.Metadata.ScanID) {
		return NewError("put").Scan(s.Metadata.ScanID).Cause(ErrInvalidScanID).Err()
	}
	if s.Graph.ScanID != s.Metadata.ScanID {
		return NewError("put").Scan(s.Metadata.ScanID).
			Cause(fmt.Errorf("graph scan id %q does not match", s.Graph.ScanID)).Err()
	}
	return nil
}
