package snapshot

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

// Backend names.
const (
	BackendFile     = fileBackend
	BackendSQLite   = sqliteBackend
	BackendPostgres = pgBackend
	BackendS3       = s3Backend
)

// Options select and locate a store backend.
type Options struct {
	Backend     string    `mapstructure:"backend" validate:"omitempty,oneof=file sqlite postgres s3"`
	Dir         string    `mapstructure:"dir"`
	SQLitePath  string    `mapstructure:"sqlite_path"`
	PostgresURL string    `mapstructure:"postgres_url"`
	S3          S3Options `mapstructure:"s3"`
}

// Open creates the configured store. Backend defaults to file.
func Open(ctx context.Context, opts Options, codec *Codec, logger logging.Logger) (Store, error) {
	switch opts.Backend {
	case "", BackendFile:
		return NewFileStore(opts.Dir, codec, logger)
	case BackendSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = filepath.Join(opts.Dir, "snapshots.db")
		}
		return NewSQLiteStore(ctx, path, codec, logger)
	case BackendPostgres:
		return NewPGStore(ctx, opts.PostgresURL, codec, logger)
	case BackendS3:
		return NewS3Store(ctx, opts.S3, codec, logger)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", opts.Backend)
	}
}

// Observer receives one call per store operation.
type Observer interface {
	ObserveSnapshotOp(op string, elapsed time.Duration, err error)
}

type observedStore struct {
	Store
	obs Observer
}

// Observe wraps s so that every operation is reported to obs.
func Observe(s Store, obs Observer) Store {
	if obs == nil {
		return s
	}
	return &observedStore{Store: s, obs: obs}
}

func (o *observedStore) Put(ctx context.Context, s *Snapshot) error {
	start := time.Now()
	err := o.Store.Put(ctx, s)
	o.obs.ObserveSnapshotOp("put", time.Since(start), err)
	return err
}

func (o *observedStore) Get(ctx context.Context, scanID string) (*Snapshot, error) {
	start := time.Now()
	s, err := o.Store.Get(ctx, scanID)
	o.obs.ObserveSnapshotOp("get", time.Since(start), err)
	return s, err
}

func (o *observedStore) List(ctx context.Context, targetID string) ([]Metadata, error) {
	start := time.Now()
	ms, err := o.Store.List(ctx, targetID)
	o.obs.ObserveSnapshotOp("list", time.Since(start), err)
	return ms, err
}

func (o *observedStore) Latest(ctx context.Context, targetID string) (*Snapshot, error) {
	return latest(ctx, o, targetID)
}
