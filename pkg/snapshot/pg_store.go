package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

const pgBackend = "postgres"

// PGPool is the subset of *pgxpool.Pool the store uses.
type PGPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const (
	pgSchema = `
	CREATE TABLE IF NOT EXISTS archmap_snapshots (
		scan_id    TEXT PRIMARY KEY,
		target_id  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		metadata   JSONB NOT NULL,
		payload    BYTEA NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_archmap_snapshots_target ON archmap_snapshots(target_id, created_at DESC);
	`

	pgInsert = `
		INSERT INTO archmap_snapshots (scan_id, target_id, created_at, metadata, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scan_id) DO NOTHING
	`

	pgSelectPayload = `SELECT payload FROM archmap_snapshots WHERE scan_id = $1`

	pgSelectMetadata = `
		SELECT metadata FROM archmap_snapshots
		WHERE target_id = $1
		ORDER BY created_at DESC, scan_id DESC
	`
)

// PGStore keeps snapshots in PostgreSQL.
type PGStore struct {
	pool   PGPool
	codec  *Codec
	logger logging.Logger
}

// NewPGStore connects to databaseURL, verifies the connection and creates
// the table if needed.
func NewPGStore(ctx context.Context, databaseURL string, codec *Codec, logger logging.Logger) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, NewError("open").Backend(pgBackend).Cause(fmt.Errorf("parse database URL: %w", err)).Err()
	}

	config.MaxConns = 8
	config.MinConns = 1
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, Unavailable(pgBackend, "open", err)
	}

	s, err := NewPGStoreWithPool(ctx, pool, codec, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPGStoreWithPool wraps an existing pool and pings it.
func NewPGStoreWithPool(ctx context.Context, pool PGPool, codec *Codec, logger logging.Logger) (*PGStore, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if codec == nil {
		codec = NewCodec(nil)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, Unavailable(pgBackend, "open", err)
	}
	return &PGStore{
		pool:   pool,
		codec:  codec,
		logger: logger.With(logging.Component("snapshot"), logging.String("backend", pgBackend)),
	}, nil
}

// Migrate creates the snapshot table and index.
func (s *PGStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return s.classify("migrate", "", err)
	}
	return nil
}

// classify maps a driver error: server-side errors are plain failures,
// anything else means the database could not be reached.
func (s *PGStore) classify(op, scanID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return NewError(op).Backend(pgBackend).Scan(scanID).Cause(err).Err()
	}
	return Unavailable(pgBackend, op, err)
}

// Put implements Store.
func (s *PGStore) Put(ctx context.Context, snap *Snapshot) error {
	if err := checkPut(snap); err != nil {
		return err
	}
	scanID := snap.Metadata.ScanID

	payload, err := s.codec.Encode(snap)
	if err != nil {
		return NewError("put").Backend(pgBackend).Scan(scanID).Cause(err).Err()
	}
	meta, err := json.Marshal(snap.Metadata)
	if err != nil {
		return NewError("put").Backend(pgBackend).Scan(scanID).Cause(err).Err()
	}

	tag, err := s.pool.Exec(ctx, pgInsert,
		scanID,
		snap.Metadata.TargetID,
		snap.Metadata.CreatedAt,
		meta,
		payload,
	)
	if err != nil {
		return s.classify("put", scanID, err)
	}
	if tag.RowsAffected() == 0 {
		return NewError("put").Backend(pgBackend).Scan(scanID).Cause(ErrSnapshotExists).Err()
	}

	s.logger.Debug("snapshot stored", logging.ScanID(scanID), logging.Int("bytes", len(payload)))
	return nil
}

// Get implements Store.
func (s *PGStore) Get(ctx context.Context, scanID string) (*Snapshot, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, pgSelectPayload, scanID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, NewError("get").Backend(pgBackend).Scan(scanID).Cause(ErrNotFound).Err()
	}
	if err != nil {
		return nil, s.classify("get", scanID, err)
	}
	return s.codec.Decode(payload, scanID)
}

// List implements Store.
func (s *PGStore) List(ctx context.Context, targetID string) ([]Metadata, error) {
	rows, err := s.pool.Query(ctx, pgSelectMetadata, targetID)
	if err != nil {
		return nil, s.classify("list", "", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, s.classify("list", "", err)
		}
		var m Metadata
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("skipping unreadable metadata", logging.Error(err))
			continue
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify("list", "", err)
	}
	SortNewestFirst(out)
	return out, nil
}

// Latest implements Store.
func (s *PGStore) Latest(ctx context.Context, targetID string) (*Snapshot, error) {
	return latest(ctx, s, targetID)
}

// Close implements Store.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
