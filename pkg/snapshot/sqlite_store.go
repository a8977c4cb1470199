package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

const sqliteBackend = "sqlite"

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS snapshots (
		scan_id    TEXT PRIMARY KEY,
		target_id  TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		metadata   TEXT NOT NULL,
		payload    BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_target ON snapshots(target_id, created_at DESC)`,
}

// SQLiteStore keeps snapshots as rows of a single SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	codec  *Codec
	logger logging.Logger
}

// NewSQLiteStore opens (and creates) the database at path. Use ":memory:"
// for a throwaway store.
func NewSQLiteStore(ctx context.Context, path string, codec *Codec, logger logging.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if codec == nil {
		codec = NewCodec(nil)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, Unavailable(sqliteBackend, "open", err)
	}
	// Writes are serialized by SQLite anyway; a single connection also keeps
	// ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Unavailable(sqliteBackend, "open", err)
	}
	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, NewError("migrate").Backend(sqliteBackend).Cause(err).Err()
		}
	}

	return &SQLiteStore{
		db:     db,
		codec:  codec,
		logger: logger.With(logging.Component("snapshot"), logging.String("backend", sqliteBackend)),
	}, nil
}

// Put implements Store. The insert runs in its own transaction.
func (s *SQLiteStore) Put(ctx context.Context, snap *Snapshot) error {
	if err := checkPut(snap); err != nil {
		return err
	}
	scanID := snap.Metadata.ScanID

	payload, err := s.codec.Encode(snap)
	if err != nil {
		return NewError("put").Backend(sqliteBackend).Scan(scanID).Cause(err).Err()
	}
	meta, err := json.Marshal(snap.Metadata)
	if err != nil {
		return NewError("put").Backend(sqliteBackend).Scan(scanID).Cause(err).Err()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Unavailable(sqliteBackend, "put", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Error("rollback failed", logging.ScanID(scanID), logging.Error(rbErr))
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (scan_id, target_id, created_at, metadata, payload)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(scan_id) DO NOTHING`,
		scanID, snap.Metadata.TargetID, snap.Metadata.CreatedAt.UnixNano(), string(meta), payload)
	if err != nil {
		return Unavailable(sqliteBackend, "put", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Unavailable(sqliteBackend, "put", err)
	}
	if n == 0 {
		return NewError("put").Backend(sqliteBackend).Scan(scanID).Cause(ErrSnapshotExists).Err()
	}
	if err := tx.Commit(); err != nil {
		return Unavailable(sqliteBackend, "put", err)
	}

	s.logger.Debug("snapshot stored", logging.ScanID(scanID), logging.Int("bytes", len(payload)))
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, scanID string) (*Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE scan_id = ?`, scanID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewError("get").Backend(sqliteBackend).Scan(scanID).Cause(ErrNotFound).Err()
	}
	if err != nil {
		return nil, Unavailable(sqliteBackend, "get", err)
	}
	return s.codec.Decode(payload, scanID)
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, targetID string) ([]Metadata, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metadata FROM snapshots WHERE target_id = ? ORDER BY created_at DESC, scan_id DESC`,
		targetID)
	if err != nil {
		return nil, Unavailable(sqliteBackend, "list", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, Unavailable(sqliteBackend, "list", err)
		}
		var m Metadata
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			s.logger.Warn("skipping unreadable metadata", logging.Error(err))
			continue
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable(sqliteBackend, "list", err)
	}
	SortNewestFirst(out)
	return out, nil
}

// Latest implements Store.
func (s *SQLiteStore) Latest(ctx context.Context, targetID string) (*Snapshot, error) {
	return latest(ctx, s, targetID)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
