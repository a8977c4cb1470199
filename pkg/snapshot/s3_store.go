package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

const s3Backend = "s3"

// S3API is the subset of *s3.Client the store uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Options locate the bucket.
type S3Options struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// S3Store keeps snapshots as objects, mirroring the FileStore layout under
// an optional key prefix. Puts are conditional on the key being absent.
type S3Store struct {
	client S3API
	bucket string
	prefix string
	codec  *Codec
	logger logging.Logger
}

// NewS3Store builds a client from the default AWS credential chain, or
// from static keys when both are given.
func NewS3Store(ctx context.Context, opts S3Options, codec *Codec, logger logging.Logger) (*S3Store, error) {
	var loaders []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, Unavailable(s3Backend, "open", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewS3StoreWithClient(client, opts.Bucket, opts.Prefix, codec, logger), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client S3API, bucket, prefix string, codec *Codec, logger logging.Logger) *S3Store {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if codec == nil {
		codec = NewCodec(nil)
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		codec:  codec,
		logger: logger.With(logging.Component("snapshot"), logging.String("backend", s3Backend)),
	}
}

func (s *S3Store) key(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (s *S3Store) snapshotKey(scanID string) string {
	return s.key(snapshotDir, scanID+snapshotExt)
}

func (s *S3Store) metadataKey(targetID, scanID string) string {
	return s.key(targetDir, targetID, scanID+metadataExt)
}

// classify maps an SDK error: service responses are plain failures,
// transport errors mean the bucket could not be reached.
func (s *S3Store) classify(op, scanID string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return NewError(op).Backend(s3Backend).Scan(scanID).Cause(err).Err()
	}
	return Unavailable(s3Backend, op, err)
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, snap *Snapshot) error {
	if err := checkPut(snap); err != nil {
		return err
	}
	scanID := snap.Metadata.ScanID

	payload, err := s.codec.Encode(snap)
	if err != nil {
		return NewError("put").Backend(s3Backend).Scan(scanID).Cause(err).Err()
	}
	meta, err := json.Marshal(snap.Metadata)
	if err != nil {
		return NewError("put").Backend(s3Backend).Scan(scanID).Cause(err).Err()
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.snapshotKey(scanID)),
		Body:        bytes.NewReader(payload),
		IfNoneMatch: aws.String("*"),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		if isPreconditionFailed(err) {
			return NewError("put").Backend(s3Backend).Scan(scanID).Cause(ErrSnapshotExists).Err()
		}
		return s.classify("put", scanID, err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.metadataKey(snap.Metadata.TargetID, scanID)),
		Body:        bytes.NewReader(meta),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return s.classify("put", scanID, err)
	}

	s.logger.Debug("snapshot stored", logging.ScanID(scanID), logging.Int("bytes", len(payload)))
	return nil
}

func (s *S3Store) read(ctx context.Context, op, scanID, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, NewError(op).Backend(s3Backend).Scan(scanID).Cause(ErrNotFound).Err()
		}
		return nil, s.classify(op, scanID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, Unavailable(s3Backend, op, err)
	}
	return data, nil
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, scanID string) (*Snapshot, error) {
	if !ValidScanID(scanID) {
		return nil, NewError("get").Backend(s3Backend).Scan(scanID).Cause(ErrInvalidScanID).Err()
	}
	data, err := s.read(ctx, "get", scanID, s.snapshotKey(scanID))
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(data, scanID)
}

// List implements Store.
func (s *S3Store) List(ctx context.Context, targetID string) ([]Metadata, error) {
	prefix := s.key(targetDir, targetID) + "/"
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var out []Metadata
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, s.classify("list", "", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, metadataExt) {
				continue
			}
			raw, err := s.read(ctx, "list", "", key)
			if err != nil {
				if IsNotFound(err) {
					continue
				}
				return nil, err
			}
			var m Metadata
			if err := json.Unmarshal(raw, &m); err != nil {
				s.logger.Warn("skipping unreadable metadata", logging.Path(key), logging.Error(err))
				continue
			}
			out = append(out, m)
		}
	}
	SortNewestFirst(out)
	return out, nil
}

// Latest implements Store.
func (s *S3Store) Latest(ctx context.Context, targetID string) (*Snapshot, error) {
	return latest(ctx, s, targetID)
}

// Close implements Store.
func (s *S3Store) Close() error { return nil }
