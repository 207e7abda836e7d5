package backends

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
)

// S3Config configures S3 (or S3 compatible) blob storage.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string // optional, e.g. a MinIO server
	AccessKey    string // optional, the default credential chain is used if empty
	SecretKey    string
	Prefix       string
	UsePathStyle bool

	// MaxElapsedTime bounds the retries of a single operation.
	MaxElapsedTime time.Duration
}

// s3API is the subset of *s3.Client used by the backend.
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

var loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

// S3Factory opens one S3 store per repository, all sharing a bucket and client.
type S3Factory struct {
	client         s3API
	bucket         string
	prefix         string
	maxElapsedTime time.Duration
	logger         *slog.Logger
}

// NewS3Factory builds the S3 client described by cfg.
func NewS3Factory(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Factory, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Factory(client, cfg, logger), nil
}

func newS3Factory(client s3API, cfg S3Config, logger *slog.Logger) *S3Factory {
	if logger == nil {
		logger = slog.Default()
	}
	maxElapsed := cfg.MaxElapsedTime
	if maxElapsed <= 0 {
		maxElapsed = time.Minute
	}
	return &S3Factory{
		client:         client,
		bucket:         cfg.Bucket,
		prefix:         strings.Trim(cfg.Prefix, "/"),
		maxElapsedTime: maxElapsed,
		logger:         logger,
	}
}

// Open returns the store of repositoryID. Its blobs live below
// <prefix>/<repositoryID>/gotenberg/.
func (f *S3Factory) Open(_ context.Context, repositoryID string) (Backend, error) {
	if repositoryID == "" {
		return nil, errors.New("empty repository id")
	}
	return &S3{
		client:         f.client,
		bucket:         f.bucket,
		prefix:         path.Join(f.prefix, repositoryID, StoreName) + "/",
		maxElapsedTime: f.maxElapsedTime,
		logger:         f.logger.With("bucket", f.bucket, "repository", repositoryID),
	}, nil
}

// make sure that S3 implements Backend
var _ Backend = &S3{}

// S3 stores the blobs of one repository as objects below a key prefix.
// Blobs are spooled to a temp file and uploaded with a single PutObject on
// commit; S3 never exposes a partially uploaded object.
type S3 struct {
	client         s3API
	bucket         string
	prefix         string
	maxElapsedTime time.Duration
	logger         *slog.Logger
}

func (be *S3) key(id string) (string, error) {
	if id == "" || strings.Contains(id, "/") {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	return be.prefix + id, nil
}

// retry runs fn until it succeeds, returns a permanent error or the time
// budget is spent.
func (be *S3) retry(ctx context.Context, msg string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = be.maxElapsedTime

	return backoff.RetryNotify(fn, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		be.logger.Warn("s3 operation failed, retrying", "op", msg, "backoff", d, "error", err)
	})
}

// List returns the ids of all blobs, sorted.
func (be *S3) List(ctx context.Context) ([]string, error) {
	var ids []string
	paginator := s3.NewListObjectsV2Paginator(be.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(be.bucket),
		Prefix: aws.String(be.prefix),
	})

	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := be.retry(ctx, "ListObjectsV2", func() error {
			var err error
			page, err = paginator.NextPage(ctx)
			return err
		})
		if err != nil {
			return nil, errors.Wrap(err, "ListObjectsV2")
		}

		for _, obj := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(obj.Key), be.prefix)
			if id == "" || strings.Contains(id, "/") {
				continue
			}
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// Get opens the object of the blob stored under id.
func (be *S3) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	key, err := be.key(id)
	if err != nil {
		return nil, err
	}

	var out *s3.GetObjectOutput
	err = be.retry(ctx, "GetObject", func() error {
		var err error
		out, err = be.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(be.bucket),
			Key:    aws.String(key),
		})
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return backoff.Permanent(errors.Wrapf(ErrNotExist, "Get(%v)", id))
		}
		return err
	})
	if err != nil {
		if IsNotExist(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, "GetObject")
	}
	return out.Body, nil
}

// Create spools the blob to a temp file until it is committed.
func (be *S3) Create(ctx context.Context, id string) (Writer, error) {
	key, err := be.key(id)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "docpdf-s3-*")
	if err != nil {
		return nil, errors.Wrap(err, "CreateTemp")
	}

	return &s3Writer{ctx: ctx, be: be, key: key, f: f}, nil
}

// Remove deletes the object of the blob stored under id.
func (be *S3) Remove(ctx context.Context, id string) error {
	key, err := be.key(id)
	if err != nil {
		return err
	}

	err = be.retry(ctx, "DeleteObject", func() error {
		_, err := be.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(be.bucket),
			Key:    aws.String(key),
		})
		return err
	})
	return errors.Wrap(err, "DeleteObject")
}

// Close does nothing; the client is shared by all stores of a factory.
func (be *S3) Close() error {
	return nil
}

type s3Writer struct {
	ctx  context.Context
	be   *S3
	key  string
	f    *os.File
	size int64
	done bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *s3Writer) Commit() error {
	if w.done {
		return errors.New("blob already finished")
	}
	w.done = true
	defer w.cleanup()

	err := w.be.retry(w.ctx, "PutObject", func() error {
		if _, err := w.f.Seek(0, io.SeekStart); err != nil {
			return backoff.Permanent(err)
		}
		_, err := w.be.client.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket:        aws.String(w.be.bucket),
			Key:           aws.String(w.key),
			Body:          w.f,
			ContentLength: aws.Int64(w.size),
		})
		return err
	})
	return errors.Wrap(err, "PutObject")
}

func (w *s3Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.cleanup()
	return nil
}

func (w *s3Writer) cleanup() {
	_ = w.f.Close()
	_ = os.Remove(w.f.Name())
}
