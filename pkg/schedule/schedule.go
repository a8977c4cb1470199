// Package schedule runs periodic rescans so the architecture map stays
// current without manual triggers.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

// Job is one recurring scan.
type Job struct {
	Name     string `mapstructure:"name" yaml:"name" validate:"required"`
	Schedule string `mapstructure:"schedule" yaml:"schedule" validate:"required"`
	Target   string `mapstructure:"target" yaml:"target" validate:"required"`
}

// Config lists the recurring scans.
type Config struct {
	Jobs []Job `mapstructure:"jobs" validate:"dive"`
}

// Validate checks that every schedule parses and every name is unique.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Jobs))
	for _, j := range c.Jobs {
		if seen[j.Name] {
			return fmt.Errorf("duplicate job name %q", j.Name)
		}
		seen[j.Name] = true
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			return fmt.Errorf("job %q: invalid cron expression: %w", j.Name, err)
		}
	}
	return nil
}

// RunFunc performs one scan of target.
type RunFunc func(ctx context.Context, target string) error

// Status describes a scheduled job.
type Status struct {
	Job
	Next time.Time `json:"next_run"`
	Prev time.Time `json:"prev_run,omitempty"`
}

// Scheduler runs jobs on their cron schedules. A job whose previous run is
// still going is skipped rather than queued.
type Scheduler struct {
	cron   *cron.Cron
	run    RunFunc
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]cron.EntryID
	defs map[string]Job
}

// New creates a stopped scheduler.
func New(run RunFunc, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.Component("scheduler"))
	cl := cronLogger{logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		run:    run,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]cron.EntryID),
		defs:   make(map[string]Job),
	}
}

// Add schedules job. Re-adding a name replaces the earlier definition.
func (s *Scheduler) Add(job Job) error {
	schedule, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.jobs[job.Name]; ok {
		s.cron.Remove(id)
	}
	id := s.cron.Schedule(schedule, cron.FuncJob(func() { s.execute(job) }))
	s.jobs[job.Name] = id
	s.defs[job.Name] = job

	s.logger.Info("job scheduled",
		logging.String("job", job.Name),
		logging.String("schedule", job.Schedule),
		logging.Target(job.Target))
	return nil
}

// Remove unschedules a job by name.
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.jobs, name)
	delete(s.defs, name)
	return true
}

func (s *Scheduler) execute(job Job) {
	timer := logging.StartTimer(s.logger, "scheduled scan", logging.String("job", job.Name), logging.Target(job.Target))
	if err := s.run(s.ctx, job.Target); err != nil {
		timer.EndError(err)
		return
	}
	timer.End()
}

// Jobs reports every scheduled job ordered by name.
func (s *Scheduler) Jobs() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for name, id := range s.jobs {
		e := s.cron.Entry(id)
		out = append(out, Status{Job: s.defs[name], Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", logging.Count(len(s.Jobs())))
}

// Stop cancels running scans and waits for them to return or for ctx to
// end, whichever is first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	l logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, kv(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(kv(keysAndValues), logging.Error(err))...)
}

func kv(pairs []any) []logging.Field {
	fields := make([]logging.Field, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields = append(fields, logging.Any(fmt.Sprint(pairs[i]), pairs[i+1]))
	}
	return fields
}
