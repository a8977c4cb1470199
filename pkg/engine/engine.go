// Package engine runs the scan pipeline: collect facts, resolve identities,
// build the graph, run the rules, persist the snapshot and diff it against
// the previous scan of the same target.
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-archmap/pkg/builder"
	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/diff"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
	"github.com/dd0wney/cluso-archmap/pkg/identity"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
	"github.com/dd0wney/cluso-archmap/pkg/metrics"
	"github.com/dd0wney/cluso-archmap/pkg/notify"
	"github.com/dd0wney/cluso-archmap/pkg/rules"
	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
)

// Components are the pipeline stages. Collector, Resolver, Builder, Rules
// and Store are required.
type Components struct {
	Collector *facts.Collector
	Resolver  *identity.Resolver
	Builder   *builder.Builder
	Rules     *rules.Engine
	Store     snapshot.Store
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records pipeline metrics on reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = reg }
}

// WithPublisher emits scan events on p.
func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithClock overrides the scan timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithScanIDs overrides scan id generation.
func WithScanIDs(next func() string) Option {
	return func(e *Engine) { e.nextID = next }
}

// Engine orchestrates scans. It is safe for concurrent use; concurrent scans
// of the same target each diff against whatever was latest when they began.
type Engine struct {
	Components

	differ    *diff.Differ
	metrics   *metrics.Registry
	publisher notify.Publisher
	logger    logging.Logger
	now       func() time.Time
	nextID    func() string
}

// New wires an engine from its components.
func New(c Components, logger logging.Logger, opts ...Option) (*Engine, error) {
	if c.Collector == nil || c.Resolver == nil || c.Builder == nil || c.Rules == nil || c.Store == nil {
		return nil, errors.New("engine: missing pipeline component")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	e := &Engine{
		Components: c,
		publisher:  notify.NopPublisher{},
		logger:     logger.With(logging.Component("engine")),
		now:        time.Now,
		nextID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.differ = diff.NewDiffer(e.Store, logger)
	return e, nil
}

// Result is the outcome of one scan.
type Result struct {
	Snapshot *snapshot.Snapshot
	// Previous is the snapshot the scan was diffed against, if any.
	Previous *snapshot.Metadata
	Diff     *diff.Diff
	Facts    *facts.Batch
}

// Summary returns the scan's headline counts.
func (r *Result) Summary() snapshot.Metadata { return r.Snapshot.Metadata }

// Scan runs the full pipeline against target and persists the result.
// Degraded inputs end up on the snapshot's diagnostic trail; only context
// cancellation and storage failures abort.
func (e *Engine) Scan(ctx context.Context, target string) (*Result, error) {
	start := e.now()
	timer := logging.StartTimer(e.logger, "scan", logging.Target(target))

	res, err := e.scan(ctx, target, start)
	if err != nil {
		timer.EndError(err)
		if e.metrics != nil {
			e.metrics.RecordScan(metrics.StatusError, e.now().Sub(start))
		}
		targetID, _ := snapshot.TargetID(target)
		e.publish(context.WithoutCancel(ctx), notify.Event{Topic: notify.TopicScanFailed, TargetID: targetID, Error: err.Error()})
		return nil, err
	}
	timer.End()
	e.record(res, e.now().Sub(start))
	e.announce(ctx, res)
	return res, nil
}

func (e *Engine) scan(ctx context.Context, target string, start time.Time) (*Result, error) {
	abs, err := filepath.Abs(target)
	if err != nil {
		return nil, fmt.Errorf("resolve target: %w", err)
	}
	targetID, err := snapshot.TargetID(abs)
	if err != nil {
		return nil, err
	}
	scanID := e.nextID()
	logger := e.logger.With(logging.ScanID(scanID), logging.Target(abs))

	trail := diag.NewTrail()
	batch, err := e.Collector.Collect(ctx, abs, trail)
	if err != nil {
		return nil, err
	}

	g, findings, err := e.Analyze(ctx, scanID, start, batch.Facts, trail)
	if err != nil {
		return nil, err
	}

	previous, err := e.previous(ctx, targetID, trail)
	if err != nil {
		return nil, err
	}

	snap := snapshot.New(targetID, abs, g, findings, trail.Items())
	if err := e.Store.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist snapshot %s: %w", scanID, err)
	}

	res := &Result{Snapshot: snap, Facts: batch}
	if previous != nil {
		res.Previous = &previous.Metadata
		res.Diff = diff.Compare(previous, snap)
	}

	logger.Info("scan complete",
		logging.Int("entities", snap.Metadata.Entities),
		logging.Int("relations", snap.Metadata.Relations),
		logging.Int("findings", snap.Metadata.Findings),
		logging.Int("diagnostics", len(snap.Diagnostics)))
	return res, nil
}

// previous loads the latest snapshot of target. A missing one is normal; an
// unreadable one is recorded on trail and skipped.
func (e *Engine) previous(ctx context.Context, targetID string, trail *diag.Trail) (*snapshot.Snapshot, error) {
	prev, err := e.Store.Latest(ctx, targetID)
	switch {
	case err == nil:
		return prev, nil
	case snapshot.IsNotFound(err):
		return nil, nil
	case snapshot.IsCorrupt(err), snapshot.IsKeyRequired(err):
		var ce *snapshot.CorruptError
		source := targetID
		if errors.As(err, &ce) {
			source = ce.ScanID
		}
		trail.Add(diag.SnapshotCorrupt, source, "previous snapshot unreadable: %v", err)
		e.logger.Warn("previous snapshot unreadable, skipping diff", logging.Error(err))
		return nil, nil
	default:
		return nil, fmt.Errorf("load previous snapshot: %w", err)
	}
}

// Analyze resolves facts, builds the graph and runs the rules without
// touching storage. Facts must carry collector sequence numbers.
func (e *Engine) Analyze(ctx context.Context, scanID string, createdAt time.Time, fs []facts.Fact, trail *diag.Trail) (*graph.Graph, []finding.Finding, error) {
	resolution, err := e.Resolver.Resolve(ctx, fs)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve identities: %w", err)
	}
	g, err := e.Builder.Build(ctx, builder.Input{
		ScanID:     scanID,
		CreatedAt:  createdAt,
		Facts:      fs,
		Resolution: resolution,
	}, trail)
	if err != nil {
		return nil, nil, fmt.Errorf("build graph: %w", err)
	}
	findings, err := e.Rules.Run(ctx, g, trail)
	if err != nil {
		return nil, nil, fmt.Errorf("run rules: %w", err)
	}
	return g, findings, nil
}

// Reanalyze reruns the configured rules over a stored graph. The stored
// snapshot is not modified.
func (e *Engine) Reanalyze(ctx context.Context, scanID string) ([]finding.Finding, []diag.Diagnostic, error) {
	snap, err := e.Store.Get(ctx, scanID)
	if err != nil {
		return nil, nil, err
	}
	trail := diag.NewTrail()
	findings, err := e.Rules.Run(ctx, snap.Graph, trail)
	if err != nil {
		return nil, nil, err
	}
	return findings, trail.Items(), nil
}

// Snapshot returns scanID, or the latest snapshot of target when scanID is
// empty.
func (e *Engine) Snapshot(ctx context.Context, scanID, target string) (*snapshot.Snapshot, error) {
	if scanID != "" {
		return e.Store.Get(ctx, scanID)
	}
	targetID, err := snapshot.TargetID(target)
	if err != nil {
		return nil, err
	}
	return e.Store.Latest(ctx, targetID)
}

// History lists the snapshots of target, newest first.
func (e *Engine) History(ctx context.Context, target string) ([]snapshot.Metadata, error) {
	targetID, err := snapshot.TargetID(target)
	if err != nil {
		return nil, err
	}
	return e.Store.List(ctx, targetID)
}

// Diff compares two stored snapshots.
func (e *Engine) Diff(ctx context.Context, from, to string) (*diff.Diff, error) {
	d, err := e.differ.Diff(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RecordDiff(d.Summary())
	}
	return d, nil
}

// Close releases the store and the publisher.
func (e *Engine) Close() error {
	return errors.Join(e.publisher.Close(), e.Store.Close())
}

func (e *Engine) record(res *Result, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordScan(metrics.StatusSuccess, elapsed)
	for _, kind := range facts.SourceKinds {
		accepted, rejected := res.Facts.Accepted[kind], res.Facts.Rejected[kind]
		if accepted > 0 || rejected > 0 {
			e.metrics.RecordFacts(string(kind), accepted, rejected)
		}
	}
	for _, kind := range res.Facts.Failed {
		e.metrics.RecordExtractorFailure(string(kind))
	}
	e.metrics.RecordDiagnostics(res.Snapshot.Diagnostics)
	e.metrics.RecordGraph(res.Snapshot.Graph.Stats())
	e.metrics.RecordFindings(res.Snapshot.Findings)
	if res.Diff != nil {
		e.metrics.RecordDiff(res.Diff.Summary())
	}
}

func (e *Engine) announce(ctx context.Context, res *Result) {
	meta := res.Snapshot.Metadata
	e.publish(ctx, notify.Event{
		Topic:    notify.TopicScanCompleted,
		ScanID:   meta.ScanID,
		TargetID: meta.TargetID,
		Findings: finding.CountBySeverity(res.Snapshot.Findings),
	})
	if res.Diff == nil {
		return
	}
	summary := res.Diff.Summary()
	e.publish(ctx, notify.Event{
		Topic:    notify.TopicDiffComputed,
		ScanID:   meta.ScanID,
		TargetID: meta.TargetID,
		Previous: res.Previous.ScanID,
		Diff:     &summary,
	})
}

// publish never fails a scan; a dropped event is only logged.
func (e *Engine) publish(ctx context.Context, ev notify.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Debug("event not published", logging.String("topic", ev.Topic), logging.Error(err))
	}
}
