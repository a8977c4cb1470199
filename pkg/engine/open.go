package engine

import (
	"context"
	"fmt"

	"github.com/dd0wney/cluso-archmap/pkg/builder"
	"github.com/dd0wney/cluso-archmap/pkg/config"
	"github.com/dd0wney/cluso-archmap/pkg/facts"
	"github.com/dd0wney/cluso-archmap/pkg/identity"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
	"github.com/dd0wney/cluso-archmap/pkg/metrics"
	"github.com/dd0wney/cluso-archmap/pkg/notify"
	"github.com/dd0wney/cluso-archmap/pkg/rules"
	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
)

// Open builds an engine from configuration: file extractors for every
// source kind, the configured rules and store, and an event publisher when
// notifications are enabled. reg may be nil.
func Open(ctx context.Context, cfg *config.Config, logger logging.Logger, reg *metrics.Registry) (*Engine, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	validator, err := facts.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("load fact schemas: %w", err)
	}
	collector := facts.NewCollector(validator, logger, cfg.Extract.Concurrency,
		facts.DefaultFileExtractors(cfg.Extract.MaxFileSize)...)

	ruleSet, err := rules.Build(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("build rules: %w", err)
	}
	var ruleOpts []rules.EngineOption
	if reg != nil {
		ruleOpts = append(ruleOpts, rules.WithObserver(reg))
	}

	sealer, err := cfg.Encryption.Sealer()
	if err != nil {
		return nil, fmt.Errorf("snapshot encryption: %w", err)
	}
	store, err := snapshot.Open(ctx, cfg.Storage, snapshot.NewCodec(sealer), logger)
	if err != nil {
		return nil, err
	}
	if reg != nil {
		store = snapshot.Observe(store, reg)
	}

	publisher, err := notify.Open(cfg.Notify, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open event publisher: %w", err)
	}

	opts := []Option{WithPublisher(publisher)}
	if reg != nil {
		opts = append(opts, WithMetrics(reg))
	}
	return New(Components{
		Collector: collector,
		Resolver:  identity.NewResolver(identity.Options{Workers: cfg.Resolver.Workers}, logger),
		Builder:   builder.New(builder.Options{LowConfidence: cfg.Builder.LowConfidence}, logger),
		Rules:     rules.NewEngine(logger, ruleSet, ruleOpts...),
		Store:     store,
	}, logger, opts...)
}
