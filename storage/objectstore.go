// Package storage provides the object store that holds uploaded documents
// and derived artifacts on any S3-compatible backend (MinIO, Hetzner,
// AWS). Objects are keyed by upload date and job ID so a bucket listing
// reads chronologically.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/docfold/docfold/common"
	"github.com/docfold/docfold/config"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// ObjectStore wraps an S3-compatible backend behind docfold's key layout.
type ObjectStore struct {
	client    S3Client
	presigner S3Presigner
	uploader  *manager.Uploader
	bucket    string
	ttl       time.Duration
}

// NewObjectStore builds an object store from configuration. The endpoint
// may point at MinIO or any other S3-compatible service.
func NewObjectStore(ctx context.Context, cfg config.S3Config) (*ObjectStore, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               cfg.Endpoint,
					SigningRegion:     region,
					HostnameImmutable: true, // important for MinIO
				}, nil
			})))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load S3 configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle // required for MinIO
		o.HTTPClient = &http.Client{}
	})

	return &ObjectStore{
		client:    client,
		presigner: s3.NewPresignClient(client),
		uploader:  manager.NewUploader(client),
		bucket:    cfg.Bucket,
		ttl:       cfg.PresignTTL,
	}, nil
}

// NewObjectStoreWithClient creates an object store on injected clients.
// Used by tests.
func NewObjectStoreWithClient(client S3Client, presigner S3Presigner, bucket string, ttl time.Duration) *ObjectStore {
	return &ObjectStore{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
		ttl:       ttl,
	}
}

// DocumentKey returns the canonical object key for a job's file:
// YYYY/MM/DD/{job_id}/{filename}.
func DocumentKey(uploadedAt time.Time, jobID, filename string) string {
	return path.Join(uploadedAt.UTC().Format("2006/01/02"), jobID, filename)
}

// EnsureBucket creates the configured bucket if it does not exist yet.
func (o *ObjectStore) EnsureBucket(ctx context.Context) error {
	_, err := o.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(o.bucket),
	})
	if err == nil {
		return nil
	}

	_, err = o.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(o.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", o.bucket, err)
	}
	common.Logger.WithField("bucket", o.bucket).Info("created bucket")
	return nil
}

// Put stores a byte payload under the given key.
func (o *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := o.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// PutFile streams a local file to the given key. Large files go through
// the multipart uploader when one is configured.
func (o *ObjectStore) PutFile(ctx context.Context, key, filePath, contentType string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filePath, err)
	}
	defer file.Close()

	input := &s3.PutObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
		Body:   file,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if o.uploader != nil {
		if _, err := o.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		return nil
	}
	if _, err := o.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Get returns the full contents of an object.
func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	result, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return data, nil
}

// GetToFile downloads an object into a local file.
func (o *ObjectStore) GetToFile(ctx context.Context, key, localPath string) error {
	data, err := o.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := os.WriteFile(localPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", localPath, err)
	}
	return nil
}

// Delete removes an object. Deleting a missing key is not an error.
func (o *ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := o.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

// Exists reports whether the key is present.
func (o *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object %s: %w", key, err)
	}
	return true, nil
}

// Stat returns object metadata, or ErrObjectNotFound.
func (o *ObjectStore) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	head, err := o.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to head object %s: %w", key, err)
	}

	info := &ObjectInfo{Key: key}
	if head.ContentLength != nil {
		info.Size = *head.ContentLength
	}
	if head.ContentType != nil {
		info.ContentType = *head.ContentType
	}
	if head.LastModified != nil {
		info.LastModified = *head.LastModified
	}
	return info, nil
}

// PresignGet returns a time-limited download URL for an object.
func (o *ObjectStore) PresignGet(ctx context.Context, key string) (string, error) {
	ttl := o.ttl
	if ttl <= 0 {
		ttl = time.Hour
	}
	req, err := o.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to presign object %s: %w", key, err)
	}
	return req.URL, nil
}
