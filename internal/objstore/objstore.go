// Package objstore implements the object-store backend the Columnar
// Writer (C4) depends on, specified only as a blob put/append interface
// (§1's non-goals). Two backends are provided — local filesystem and
// S3-compatible — dispatched the way the teacher's storage_backends.go
// dispatches on URL scheme.
package objstore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/conduitio/bwlimit"

	"github.com/unvariance/collector/internal/errs"
)

// Object is a single write-once, append-then-close blob target.
type Object interface {
	io.Writer
	io.Closer
}

// Store creates Objects at a storage-prefix-relative key.
type Store interface {
	// Create opens a new Object at key for writing. The returned Object
	// must be Close()d to finalize the upload.
	Create(ctx context.Context, key string) (Object, error)
}

// NewStore dispatches on storageType, matching §6's CLI contract
// (storage-type in {local, s3}).
func NewStore(ctx context.Context, storageType, localDir string, uploadBytesPerSec int) (Store, error) {
	switch storageType {
	case "s3", "":
		if storageType == "" {
			storageType = "local"
			break
		}
		return newS3Store(ctx, uploadBytesPerSec)
	case "local":
	default:
		return nil, errs.New(errs.InvalidInput, fmt.Sprintf("unknown storage-type %q", storageType))
	}
	return newLocalStore(localDir)
}

// --- local filesystem backend ---

type localStore struct {
	baseDir string
}

func newLocalStore(baseDir string) (Store, error) {
	if baseDir == "" {
		baseDir = "."
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.Io, "failed to create local storage directory", err)
	}
	return &localStore{baseDir: baseDir}, nil
}

func (s *localStore) Create(ctx context.Context, key string) (Object, error) {
	full := filepath.Join(s.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, errs.Wrap(errs.Io, "failed to create object directory", err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "failed to create local object", err)
	}
	return f, nil
}

// --- S3 backend ---

type s3Store struct {
	client *s3.Client
	bucket string
}

// newS3Store builds an S3 client whose outbound connections are
// bandwidth-limited via bwlimit's dialer wrapper, so a slow upload link
// never starves other node traffic. uploadBytesPerSec <= 0 disables the
// limit. COLLECTOR_S3_ENDPOINT/ACCESS_KEY/SECRET_KEY opt into a
// self-hosted S3-compatible endpoint (MinIO, Ceph) with static
// credentials instead of the AWS default credential chain, since a
// per-node agent commonly ships to clusters with no IAM role to assume.
func newS3Store(ctx context.Context, uploadBytesPerSec int) (Store, error) {
	httpClient := &http.Client{}
	if uploadBytesPerSec > 0 {
		limitedDialer := bwlimit.NewDialer(&net.Dialer{}, bwlimit.Byte(uploadBytesPerSec), bwlimit.Infinite)
		httpClient.Transport = &http.Transport{
			DialContext: limitedDialer.DialContext,
		}
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithHTTPClient(httpClient)}

	endpoint := os.Getenv("COLLECTOR_S3_ENDPOINT")
	accessKey := os.Getenv("COLLECTOR_S3_ACCESS_KEY")
	secretKey := os.Getenv("COLLECTOR_S3_SECRET_KEY")
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.Io, "failed to load AWS config from environment", err)
	}
	bucket := os.Getenv("COLLECTOR_S3_BUCKET")
	if bucket == "" {
		return nil, errs.New(errs.InvalidInput, "COLLECTOR_S3_BUCKET must be set for storage-type=s3")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &s3Store{
		client: client,
		bucket: bucket,
	}, nil
}

func (s *s3Store) Create(ctx context.Context, key string) (Object, error) {
	pr, pw := io.Pipe()
	obj := &s3Object{
		ctx:  ctx,
		pw:   pw,
		done: make(chan error, 1),
	}

	go func() {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		obj.done <- err
	}()

	return obj, nil
}

type s3Object struct {
	ctx  context.Context
	pw   *io.PipeWriter
	done chan error
}

func (o *s3Object) Write(p []byte) (int, error) {
	return o.pw.Write(p)
}

func (o *s3Object) Close() error {
	if err := o.pw.Close(); err != nil {
		return errs.Wrap(errs.Io, "failed to close S3 upload pipe", err)
	}
	if err := <-o.done; err != nil {
		return errs.Wrap(errs.Io, "S3 PutObject failed", err)
	}
	return nil
}

// BufferedObject wraps an Object with a buffered writer so the writer
// (C4) can batch small row-group writes into fewer underlying Write
// calls. Close flushes the buffer before closing the wrapped Object.
type BufferedObject struct {
	bw  *bufio.Writer
	obj Object
}

// NewBufferedObject wraps o with a 64KiB write buffer.
func NewBufferedObject(o Object) *BufferedObject {
	return &BufferedObject{bw: bufio.NewWriterSize(o, 64*1024), obj: o}
}

func (b *BufferedObject) Write(p []byte) (int, error) {
	return b.bw.Write(p)
}

func (b *BufferedObject) Close() error {
	if err := b.bw.Flush(); err != nil {
		b.obj.Close()
		return errs.Wrap(errs.Io, "failed to flush buffered object", err)
	}
	return b.obj.Close()
}
