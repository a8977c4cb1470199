package snapshot

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	older := sample("scan-a", "target1", epoch)
	newer := sample("scan-b", "target1", epoch.Add(time.Hour))
	other := sample("scan-c", "target2", epoch.Add(2*time.Hour))

	for _, snap := range []*Snapshot{older, newer, other} {
		require.NoError(t, s.Put(ctx, snap))
	}

	t.Run("duplicate put", func(t *testing.T) {
		dup := sample("scan-a", "target1", epoch.Add(5*time.Hour))
		err := s.Put(ctx, dup)
		assert.ErrorIs(t, err, ErrSnapshotExists)

		got, err := s.Get(ctx, "scan-a")
		require.NoError(t, err)
		assert.True(t, got.Metadata.CreatedAt.Equal(epoch), "stored snapshot was modified")
	})

	t.Run("get", func(t *testing.T) {
		got, err := s.Get(ctx, "scan-b")
		require.NoError(t, err)
		assert.Equal(t, newer.Metadata, got.Metadata)
		assert.Len(t, got.Graph.Entities, 2)
		assert.Len(t, got.Findings, 1)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := s.Get(ctx, "scan-zzz")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list newest first", func(t *testing.T) {
		ms, err := s.List(ctx, "target1")
		require.NoError(t, err)
		require.Len(t, ms, 2)
		assert.Equal(t, "scan-b", ms[0].ScanID)
		assert.Equal(t, "scan-a", ms[1].ScanID)

		ms, err = s.List(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, ms)
	})

	t.Run("latest", func(t *testing.T) {
		got, err := s.Latest(ctx, "target1")
		require.NoError(t, err)
		assert.Equal(t, "scan-b", got.Metadata.ScanID)

		_, err = s.Latest(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, NewCodec(sealer(t)), nil)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)

	leftovers, err := filepath.Glob(filepath.Join(dir, snapshotDir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files left behind")
}

func TestFileStoreCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), sample("scan-a", "target1", epoch)))

	path := filepath.Join(dir, snapshotDir, "scan-a"+snapshotExt)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.Chmod(path, 0o600))
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = s.Get(context.Background(), "scan-a")
	assert.True(t, IsCorrupt(err), "got %v", err)
}

func TestFileStoreRejectsBadIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidScanID)

	bad := sample("scan-a", "target1", epoch)
	bad.Metadata.ScanID = "a/b"
	bad.Graph.ScanID = "a/b"
	assert.ErrorIs(t, s.Put(context.Background(), bad), ErrInvalidScanID)
}

func TestFileStoreClosed(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Put(context.Background(), sample("scan-a", "t", epoch)), ErrStoreClosed)
}

func TestFileStoreUnavailable(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := NewFileStore(file, nil, nil)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "snapshots.db"), nil, nil)
	require.NoError(t, err)
	defer s.Close()

	exerciseStore(t, s)
}

// fakeS3 is an in-memory bucket honouring If-None-Match.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	key := aws.ToString(in.Key)
	if aws.ToString(in.IfNoneMatch) == "*" {
		if _, ok := f.objects[key]; ok {
			return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
		}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestS3Store(t *testing.T) {
	client := newFakeS3()
	s := NewS3StoreWithClient(client, "bucket", "/archmap/", nil, nil)
	exerciseStore(t, s)

	_, ok := client.objects["archmap/snapshots/scan-a.snap"]
	assert.True(t, ok, "expected prefixed snapshot key")
	_, ok = client.objects["archmap/targets/target1/scan-a.json"]
	assert.True(t, ok, "expected prefixed metadata key")
}

func TestS3StoreUnavailable(t *testing.T) {
	client := newFakeS3()
	client.fail = io.ErrUnexpectedEOF
	s := NewS3StoreWithClient(client, "bucket", "", nil, nil)

	err := s.Put(context.Background(), sample("scan-a", "t", epoch))
	assert.ErrorIs(t, err, ErrStorageUnavailable)

	client.fail = &smithy.GenericAPIError{Code: "AccessDenied"}
	err = s.Put(context.Background(), sample("scan-a", "t", epoch))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
}

type opRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *opRecorder) ObserveSnapshotOp(op string, _ time.Duration, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func TestObserve(t *testing.T) {
	inner, err := NewFileStore(t.TempDir(), nil, nil)
	require.NoError(t, err)
	rec := &opRecorder{}
	s := Observe(inner, rec)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, sample("scan-a", "t1", epoch)))
	_, err = s.Latest(ctx, "t1")
	require.NoError(t, err)

	assert.Equal(t, []string{"put", "list", "get"}, rec.ops)
}
