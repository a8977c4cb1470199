package health

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
)

// probeTarget is a target id no scan produces; listing it only proves the
// backend answers.
const probeTarget = "health-probe"

// StoreCheck reports the snapshot store unhealthy when it cannot list.
func StoreCheck(store snapshot.Store) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "snapshot_store"}
		if _, err := store.List(ctx, probeTarget); err != nil && !errors.Is(err, snapshot.ErrNotFound) {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}
		check.Status = StatusHealthy
		check.Message = "reachable"
		return check
	}
}

// ScanTracker remembers the outcome of the last scan of each job.
type ScanTracker struct {
	mu   sync.Mutex
	runs map[string]scanRun
}

type scanRun struct {
	at  time.Time
	err error
}

// NewScanTracker creates an empty tracker.
func NewScanTracker() *ScanTracker {
	return &ScanTracker{runs: make(map[string]scanRun)}
}

// Record stores the outcome of a scan of job.
func (t *ScanTracker) Record(job string, at time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runs[job] = scanRun{at: at, err: err}
}

// Check reports degraded while the last scan of any job failed. Jobs that
// have not run yet do not count.
func (t *ScanTracker) Check(context.Context) Check {
	t.mu.Lock()
	defer t.mu.Unlock()

	check := Check{
		Name:    "scans",
		Status:  StatusHealthy,
		Details: make(map[string]any, len(t.runs)),
	}
	var failed []string
	for job, run := range t.runs {
		detail := map[string]any{"last_run": run.at}
		if run.err != nil {
			detail["error"] = run.err.Error()
			failed = append(failed, job)
		}
		check.Details[job] = detail
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		check.Status = StatusDegraded
		check.Message = "last scan failed: " + strings.Join(failed, ", ")
	}
	return check
}
