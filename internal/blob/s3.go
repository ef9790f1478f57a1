package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures an S3-compatible bucket.
type S3Options struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Region     string
	Bucket     string
	UseSSL     bool
	PublicHost string
	PublicRead bool
	// CreateBucket makes the bucket on start-up when it is missing.
	CreateBucket bool
}

// S3 stores blobs in an S3-compatible bucket via minio-go.
type S3 struct {
	client     *minio.Client
	bucket     string
	publicHost string
	publicRead bool
}

// NewS3 connects and verifies the bucket.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("blob: check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if !opts.CreateBucket {
			return nil, fmt.Errorf("blob: bucket %s does not exist", opts.Bucket)
		}
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("blob: create bucket %s: %w", opts.Bucket, err)
		}
	}

	host := opts.PublicHost
	if host == "" {
		host = opts.Endpoint
	}
	return &S3{
		client:     client,
		bucket:     opts.Bucket,
		publicHost: strings.TrimRight(host, "/"),
		publicRead: opts.PublicRead,
	}, nil
}

// Put uploads the object, marking it public-read when configured.
func (s *S3) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if s.publicRead {
		opts.UserMetadata = map[string]string{"x-amz-acl": "public-read"}
	}
	if _, err := s.client.PutObject(ctx, s.bucket, name, r, size, opts); err != nil {
		return fmt.Errorf("blob: put %s: %w", name, err)
	}
	return nil
}

// Delete removes the object.
func (s *S3) Delete(ctx context.Context, name string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("blob: delete %s: %w", name, err)
	}
	return nil
}

// Exists stats the object.
func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, fmt.Errorf("blob: stat %s: %w", name, err)
}

// URL returns https://{bucket}.{publicHost}/{name}.
func (s *S3) URL(name string) string {
	return S3URL(s.bucket, s.publicHost, name)
}

// S3URL builds a virtual-hosted style object URL.
func S3URL(bucket, host, name string) string {
	return "https://" + bucket + "." + host + "/" + name
}
