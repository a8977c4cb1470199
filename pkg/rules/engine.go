package rules

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/graph"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

// Observer receives one call per executed rule.
type Observer interface {
	ObserveRule(kind string, elapsed time.Duration, findings int, err error)
}

// Engine runs a fixed set of rules over graphs.
type Engine struct {
	rules    []Rule
	logger   logging.Logger
	observer Observer
	limit    int
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver reports per-rule timings and failures.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// WithConcurrency caps the number of rules running at once. Zero or less
// means unbounded.
func WithConcurrency(n int) EngineOption {
	return func(e *Engine) { e.limit = n }
}

// NewEngine creates an engine for the given rules.
func NewEngine(logger logging.Logger, rules []Rule, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	e := &Engine{
		rules:  rules,
		logger: logger.With(logging.Component("rules")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the configured rules.
func (e *Engine) Rules() []Rule { return e.rules }

// Run executes every rule against g, which must be in canonical order and is
// not modified. A failing or panicking rule contributes no findings and
// leaves a RuleExecutionFailure diagnostic; the others still run. Findings
// are sorted by (rule_kind, id) with duplicate ids collapsed.
func (e *Engine) Run(ctx context.Context, g *graph.Graph, trail *diag.Trail) ([]finding.Finding, error) {
	if g == nil {
		return nil, fmt.Errorf("rules: nil graph")
	}

	results := make([][]finding.Finding, len(e.rules))
	var eg errgroup.Group
	if e.limit > 0 {
		eg.SetLimit(e.limit)
	}

	for i, r := range e.rules {
		eg.Go(func() error {
			start := time.Now()
			fs, err := runRule(ctx, r, g)
			elapsed := time.Since(start)

			if e.observer != nil {
				e.observer.ObserveRule(r.Kind(), elapsed, len(fs), err)
			}
			if err != nil {
				fields := []logging.Field{
					logging.Rule(r.Kind()),
					logging.Latency(elapsed),
					logging.Error(err),
				}
				var pe *PanicError
				if errors.As(err, &pe) {
					fields = append(fields, logging.String("stack", string(pe.Stack)))
				}
				e.logger.Warn("rule failed", fields...)
				if trail != nil {
					trail.Add(diag.RuleExecutionFailure, r.Kind(), "%v", err)
				}
				return nil
			}
			e.logger.Debug("rule finished",
				logging.Rule(r.Kind()),
				logging.Latency(elapsed),
				logging.Count(len(fs)))
			results[i] = fs
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []finding.Finding
	for _, fs := range results {
		for _, f := range fs {
			if seen[f.ID] {
				continue
			}
			seen[f.ID] = true
			out = append(out, f)
		}
	}
	finding.Sort(out)
	return out, nil
}

// PanicError is returned for a rule that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// runRule calls Analyze, converting a panic into a *PanicError.
func runRule(ctx context.Context, r Rule, g *graph.Graph) (fs []finding.Finding, err error) {
	defer func() {
		if p := recover(); p != nil {
			fs = nil
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return r.Analyze(ctx, g)
}
