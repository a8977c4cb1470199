package diff

import (
	"context"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
)

// ErrDiffTargetMissing is returned when either side of a diff does not exist.
var ErrDiffTargetMissing = errors.New("diff target missing")

// Differ loads snapshots from a store and compares them.
type Differ struct {
	store  snapshot.Store
	logger logging.Logger
}

// NewDiffer creates a differ over store.
func NewDiffer(store snapshot.Store, logger logging.Logger) *Differ {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Differ{store: store, logger: logger.With(logging.Component("differ"))}
}

// Diff compares snapshot from with snapshot to. A missing snapshot yields
// ErrDiffTargetMissing and no partial result; a corrupt one yields the
// store's corruption error.
func (d *Differ) Diff(ctx context.Context, from, to string) (*Diff, error) {
	a, err := d.load(ctx, from)
	if err != nil {
		return nil, err
	}
	b, err := d.load(ctx, to)
	if err != nil {
		return nil, err
	}

	out := Compare(a, b)
	s := out.Summary()
	d.logger.Debug("snapshots compared",
		logging.String("from", from),
		logging.String("to", to),
		logging.Int("entities_added", s.EntitiesAdded),
		logging.Int("entities_removed", s.EntitiesRemoved),
		logging.Int("findings_introduced", s.FindingsIntroduced),
		logging.Int("findings_resolved", s.FindingsResolved))
	return out, nil
}

func (d *Differ) load(ctx context.Context, scanID string) (*snapshot.Snapshot, error) {
	s, err := d.store.Get(ctx, scanID)
	if err == nil {
		return s, nil
	}
	if snapshot.IsNotFound(err) || errors.Is(err, snapshot.ErrInvalidScanID) {
		return nil, fmt.Errorf("%w: %s: %w", ErrDiffTargetMissing, scanID, err)
	}
	return nil, err
}
