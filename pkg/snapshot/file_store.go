package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/exp/mmap"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o755

	snapshotDir  = "snapshots"
	targetDir    = "targets"
	snapshotExt  = ".snap"
	metadataExt  = ".json"
	fileBackend  = "file"
	tempFileGlob = ".tmp-*"
)

// FileStore keeps one file per snapshot under dir:
//
//	snapshots/<scan_id>.snap           framed payload
//	targets/<target_id>/<scan_id>.json metadata sidecar used by List
//
// The payload is written to a temp file, synced and then linked into place,
// which fails if the name already exists. The sidecar goes last, so a
// snapshot only shows up in List once it is fully readable.
type FileStore struct {
	dir    string
	codec  *Codec
	logger logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewFileStore opens (and creates) a file store rooted at dir.
func NewFileStore(dir string, codec *Codec, logger logging.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if codec == nil {
		codec = NewCodec(nil)
	}
	for _, sub := range []string{snapshotDir, targetDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), dirPermissions); err != nil {
			return nil, Unavailable(fileBackend, "open", err)
		}
	}
	return &FileStore{
		dir:    dir,
		codec:  codec,
		logger: logger.With(logging.Component("snapshot"), logging.String("backend", fileBackend)),
	}, nil
}

func (s *FileStore) snapshotPath(scanID string) string {
	return filepath.Join(s.dir, snapshotDir, scanID+snapshotExt)
}

func (s *FileStore) metadataPath(targetID, scanID string) string {
	return filepath.Join(s.dir, targetDir, targetID, scanID+metadataExt)
}

func (s *FileStore) checkOpen(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NewError(op).Backend(fileBackend).Cause(ErrStoreClosed).Err()
	}
	return nil
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, snap *Snapshot) error {
	if err := checkPut(snap); err != nil {
		return err
	}
	if err := s.checkOpen("put"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidScanID(snap.Metadata.TargetID) {
		return NewError("put").Backend(fileBackend).Scan(snap.Metadata.ScanID).
			Cause(fmt.Errorf("invalid target id %q", snap.Metadata.TargetID)).Err()
	}

	data, err := s.codec.Encode(snap)
	if err != nil {
		return NewError("put").Backend(fileBackend).Scan(snap.Metadata.ScanID).Cause(err).Err()
	}
	meta, err := json.Marshal(snap.Metadata)
	if err != nil {
		return NewError("put").Backend(fileBackend).Scan(snap.Metadata.ScanID).Cause(err).Err()
	}

	scanID := snap.Metadata.ScanID
	if err := writeExclusive(s.snapshotPath(scanID), data); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return NewError("put").Backend(fileBackend).Scan(scanID).Cause(ErrSnapshotExists).Err()
		}
		return Unavailable(fileBackend, "put", err)
	}

	metaPath := s.metadataPath(snap.Metadata.TargetID, scanID)
	if err := os.MkdirAll(filepath.Dir(metaPath), dirPermissions); err != nil {
		return Unavailable(fileBackend, "put", err)
	}
	if err := writeReplace(metaPath, meta); err != nil {
		return Unavailable(fileBackend, "put", err)
	}

	s.logger.Debug("snapshot stored",
		logging.ScanID(scanID),
		logging.Target(snap.Metadata.TargetID),
		logging.Int("bytes", len(data)))
	return nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, scanID string) (*Snapshot, error) {
	if !ValidScanID(scanID) {
		return nil, NewError("get").Backend(fileBackend).Scan(scanID).Cause(ErrInvalidScanID).Err()
	}
	if err := s.checkOpen("get"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := readMapped(s.snapshotPath(scanID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewError("get").Backend(fileBackend).Scan(scanID).Cause(ErrNotFound).Err()
		}
		return nil, Unavailable(fileBackend, "get", err)
	}
	return s.codec.Decode(data, scanID)
}

// List implements Store.
func (s *FileStore) List(ctx context.Context, targetID string) ([]Metadata, error) {
	if err := s.checkOpen("list"); err != nil {
		return nil, err
	}
	if !ValidScanID(targetID) {
		return nil, nil
	}

	dir := filepath.Join(s.dir, targetDir, targetID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, Unavailable(fileBackend, "list", err)
	}

	out := make([]Metadata, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, metadataExt) || strings.HasPrefix(name, ".") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, Unavailable(fileBackend, "list", err)
		}
		var m Metadata
		if err := json.Unmarshal(raw, &m); err != nil {
			s.logger.Warn("skipping unreadable metadata", logging.Path(name), logging.Error(err))
			continue
		}
		out = append(out, m)
	}
	SortNewestFirst(out)
	return out, nil
}

// Latest implements Store.
func (s *FileStore) Latest(ctx context.Context, targetID string) (*Snapshot, error) {
	return latest(ctx, s, targetID)
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// readMapped reads a whole file through a read-only memory map.
func readMapped(path string) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := make([]byte, r.Len())
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return buf, nil
}

// writeTemp writes data to a synced temp file next to path.
func writeTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), tempFileGlob)
	if err != nil {
		return "", err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// writeExclusive publishes data at path unless path already exists.
func writeExclusive(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, path); err != nil {
		var le *os.LinkError
		if errors.As(err, &le) && errors.Is(le.Err, fs.ErrExist) {
			return fs.ErrExist
		}
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}

// writeReplace atomically replaces path with data.
func writeReplace(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	syncDir(filepath.Dir(path))
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
