package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/OFFIS-RIT/medrag/pkg/loader"
)

// ObjectAPI is the part of *s3.Client the loader needs.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Loader reads text objects from an S3 bucket. It uses the AWS SDK v2 for
// Go and works against S3-compatible stores such as MinIO.
type Loader struct {
	bucket string
	client ObjectAPI
	cache  *loader.Cache
}

// NewLoader creates a Loader using an existing client, typically the one
// built by the storage package from the AWS_* settings.
//
// Example:
//
//	l := s3.NewLoader("medrag-docs", client)
//	src := loader.NewS3Source("pubmed/aspirin.txt", l)
//	text, err := src.GetText(ctx)
func NewLoader(bucket string, client ObjectAPI) *Loader {
	return &Loader{
		bucket: bucket,
		client: client,
		cache:  loader.NewCache(),
	}
}

// GetFileText retrieves the object named by src.Path from the configured
// bucket. Results are cached.
func (l *Loader) GetFileText(ctx context.Context, src loader.Source) ([]byte, error) {
	return l.cache.Do(loader.CacheKey(src), func() ([]byte, error) {
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(src.Path),
		})
		if err != nil {
			return nil, fmt.Errorf("get s3://%s/%s: %w", l.bucket, src.Path, err)
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, fmt.Errorf("read s3://%s/%s: %w", l.bucket, src.Path, err)
		}
		return buf.Bytes(), nil
	})
}
