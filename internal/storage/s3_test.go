package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	appconfig "github.com/OFFIS-RIT/medrag/internal/config"
)

type memoryBucket struct {
	objects      map[string]string
	contentTypes map[string]string
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: map[string]string{}, contentTypes: map[string]string{}}
}

func (m *memoryBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func (m *memoryBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.objects[aws.ToString(in.Key)] = string(b)
	m.contentTypes[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (m *memoryBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestNewS3ClientDisabled(t *testing.T) {
	_, err := NewS3Client(context.Background(), appconfig.StorageConfig{})
	require.ErrorIs(t, err, ErrDisabled)
}

func TestClientRoundTrip(t *testing.T) {
	bucket := newMemoryBucket()
	c := &Client{API: bucket, Bucket: "docs"}
	ctx := context.Background()

	key, err := c.PutFile(ctx, "uploads", "job-1.txt", strings.NewReader("Aspirin lowers fever."))
	require.NoError(t, err)
	require.Equal(t, "uploads/job-1.txt", key)
	require.Contains(t, bucket.contentTypes[key], "text/plain")

	b, err := c.GetFile(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "Aspirin lowers fever.", string(b))

	require.NoError(t, c.DeleteFile(ctx, key))
	_, err = c.GetFile(ctx, key)
	require.ErrorContains(t, err, "failed to get file from S3")
}
