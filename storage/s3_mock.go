package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MockS3Client is an in-memory implementation of S3Client for testing.
type MockS3Client struct {
	mu sync.Mutex
	// Objects maps bucket/key to stored payloads
	Objects map[string][]byte
	// ContentTypes maps bucket/key to the stored content type
	ContentTypes map[string]string
	// Buckets tracks created buckets
	Buckets map[string]bool
	// Errors to return from operations
	PutErr    error
	GetErr    error
	HeadErr   error
	DeleteErr error
	// Track function calls
	PutCalled    bool
	GetCalled    bool
	DeleteCalled bool
}

// NewMockS3Client creates an empty in-memory S3 client.
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{
		Objects:      make(map[string][]byte),
		ContentTypes: make(map[string]string),
		Buckets:      make(map[string]bool),
	}
}

func mockKey(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

// HeadBucket reports whether the bucket was created.
func (m *MockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Buckets[aws.ToString(params.Bucket)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

// CreateBucket registers a bucket.
func (m *MockS3Client) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Buckets[aws.ToString(params.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

// PutObject stores a payload in memory.
func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalled = true
	if m.PutErr != nil {
		return nil, m.PutErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	k := mockKey(params.Bucket, params.Key)
	m.Objects[k] = data
	m.ContentTypes[k] = aws.ToString(params.ContentType)
	return &s3.PutObjectOutput{}, nil
}

// GetObject returns a stored payload.
func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetCalled = true
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	data, ok := m.Objects[mockKey(params.Bucket, params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

// HeadObject returns metadata for a stored payload.
func (m *MockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HeadErr != nil {
		return nil, m.HeadErr
	}
	k := mockKey(params.Bucket, params.Key)
	data, ok := m.Objects[k]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(m.ContentTypes[k]),
		LastModified:  aws.Time(time.Now()),
	}, nil
}

// DeleteObject removes a stored payload.
func (m *MockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalled = true
	if m.DeleteErr != nil {
		return nil, m.DeleteErr
	}
	delete(m.Objects, mockKey(params.Bucket, params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

// ListObjectsV2 lists stored payloads under a prefix.
func (m *MockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucketPrefix := aws.ToString(params.Bucket) + "/"
	keyPrefix := aws.ToString(params.Prefix)
	var contents []types.Object
	for k, data := range m.Objects {
		if len(k) < len(bucketPrefix) || k[:len(bucketPrefix)] != bucketPrefix {
			continue
		}
		key := k[len(bucketPrefix):]
		if keyPrefix != "" && (len(key) < len(keyPrefix) || key[:len(keyPrefix)] != keyPrefix) {
			continue
		}
		contents = append(contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(data))),
		})
	}
	return &s3.ListObjectsV2Output{Contents: contents}, nil
}

// MockS3Presigner is a mock implementation of S3Presigner for testing.
type MockS3Presigner struct {
	// PresignErr is returned from PresignGetObject when set
	PresignErr error
	// LastExpires records the TTL of the last presign call
	LastExpires time.Duration
}

// PresignGetObject returns a deterministic fake URL.
func (m *MockS3Presigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if m.PresignErr != nil {
		return nil, m.PresignErr
	}
	opts := &s3.PresignOptions{}
	for _, fn := range optFns {
		fn(opts)
	}
	m.LastExpires = opts.Expires
	url := fmt.Sprintf("https://example.invalid/%s/%s?signed=1",
		aws.ToString(params.Bucket), aws.ToString(params.Key))
	return &v4.PresignedHTTPRequest{URL: url, Method: "GET"}, nil
}
