package facts

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

// Extractor reads one kind of source for a scan target. Extract returns a
// finite slice; it does not resolve cross-source references.
type Extractor interface {
	SourceKind() SourceKind
	Extract(ctx context.Context, target string) ([]Fact, error)
}

// LineError describes one malformed record inside an otherwise readable input.
type LineError struct {
	Line int
	Err  error
}

// MalformedError is returned alongside the facts that did parse when some
// records could not be decoded. The collector keeps the good facts and
// rejects the rest individually.
type MalformedError struct {
	Source string
	Lines  []LineError
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %d malformed record(s)", e.Source, len(e.Lines))
}

// Batch is the outcome of collecting facts for one target.
type Batch struct {
	Facts    []Fact
	Accepted map[SourceKind]int
	Rejected map[SourceKind]int
	Failed   []SourceKind
}

// Collector runs extractors concurrently and concatenates their output in
// registration order.
type Collector struct {
	extractors []Extractor
	validator  *Validator
	logger     logging.Logger
	limit      int
}

// NewCollector creates a collector. A limit <= 0 runs every extractor at once.
func NewCollector(validator *Validator, logger logging.Logger, limit int, extractors ...Extractor) *Collector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Collector{
		extractors: extractors,
		validator:  validator,
		logger:     logger.With(logging.Component("collector")),
		limit:      limit,
	}
}

type extractResult struct {
	facts []Fact
	err   error
}

// Collect runs every extractor against target. A failing extractor degrades
// coverage and is recorded on trail; only context cancellation aborts.
func (c *Collector) Collect(ctx context.Context, target string, trail *diag.Trail) (*Batch, error) {
	results := make([]extractResult, len(c.extractors))

	g, gctx := errgroup.WithContext(ctx)
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for i, ex := range c.extractors {
		g.Go(func() error {
			results[i] = runExtractor(gctx, ex, target)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect facts: %w", err)
	}

	batch := &Batch{
		Accepted: make(map[SourceKind]int),
		Rejected: make(map[SourceKind]int),
	}
	seen := make(map[string]bool)
	seq := 0

	for i, ex := range c.extractors {
		kind := ex.SourceKind()
		res := results[i]

		var malformed *MalformedError
		switch {
		case errors.As(res.err, &malformed):
			for _, le := range malformed.Lines {
				batch.Rejected[kind]++
				trail.Add(diag.FactRejected, fmt.Sprintf("%s#%d", malformed.Source, le.Line), "%v", le.Err)
			}
		case res.err != nil:
			batch.Failed = append(batch.Failed, kind)
			trail.Add(diag.ExtractorFailed, string(kind), "%v", res.err)
			c.logger.Warn("extractor failed", logging.Source(string(kind)), logging.Error(res.err))
			continue
		}

		for _, f := range res.facts {
			if f.SourceKind == "" {
				f.SourceKind = kind
			}
			if err := c.check(f, kind, seen); err != nil {
				batch.Rejected[kind]++
				trail.Add(diag.FactRejected, f.Ref(), "%v", err)
				continue
			}
			seen[f.Ref()] = true
			f.Seq = seq
			seq++
			batch.Facts = append(batch.Facts, f)
			batch.Accepted[kind]++
		}
	}

	c.logger.Debug("facts collected",
		logging.Count(len(batch.Facts)),
		logging.Int("extractors", len(c.extractors)),
		logging.Int("failed", len(batch.Failed)))

	return batch, nil
}

func (c *Collector) check(f Fact, kind SourceKind, seen map[string]bool) error {
	if f.SourceKind != kind {
		return fmt.Errorf("source_kind %q emitted by %s extractor", f.SourceKind, kind)
	}
	if seen[f.Ref()] {
		return errors.New("duplicate raw_id")
	}
	if c.validator == nil {
		return nil
	}
	return c.validator.Validate(f)
}

func runExtractor(ctx context.Context, ex Extractor, target string) (res extractResult) {
	defer func() {
		if r := recover(); r != nil {
			res = extractResult{err: fmt.Errorf("extractor panic: %v", r)}
		}
	}()
	facts, err := ex.Extract(ctx, target)
	return extractResult{facts: facts, err: err}
}

// StaticExtractor returns a fixed fact list. It is useful for embedding the
// engine where facts are produced elsewhere.
type StaticExtractor struct {
	Kind  SourceKind
	Facts []Fact
	Err   error
}

func (s StaticExtractor) SourceKind() SourceKind { return s.Kind }

func (s StaticExtractor) Extract(ctx context.Context, _ string) ([]Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Fact, len(s.Facts))
	copy(out, s.Facts)
	return out, s.Err
}
