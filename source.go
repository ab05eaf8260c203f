package kvadrere

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectReader opens an input object for reading.
type ObjectReader interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// S3Client is the subset of *s3.Client used to read objects.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewObjectReader returns a reader for uri. client is only required for
// s3 URIs.
func NewObjectReader(uri *URI, client S3Client) (ObjectReader, error) {
	switch uri.Scheme() {
	case FileScheme:
		return NewFileObjectReader(uri.Path()), nil
	case S3Scheme:
		if client == nil {
			return nil, errors.New("reading s3 object: no s3 client configured")
		}
		return NewS3ObjectReader(uri.Host(), uri.Path(), client), nil
	default:
		return nil, fmt.Errorf("unsupported URI scheme %q", uri.Scheme())
	}
}

// OpenInput opens the object at raw and transparently decompresses it
// based on its suffix. The caller must close the returned reader.
func OpenInput(ctx context.Context, raw string, client S3Client) (io.ReadCloser, error) {
	uri, err := ParseURI(raw)
	if err != nil {
		return nil, err
	}

	reader, err := NewObjectReader(uri, client)
	if err != nil {
		return nil, err
	}

	rc, err := reader.Open(ctx)
	if err != nil {
		return nil, err
	}

	return Decompress(rc, CompressionFromPath(uri.Path()))
}

func NewFileObjectReader(path string) *FileObjectReader {
	return &FileObjectReader{path: path}
}

type FileObjectReader struct {
	path string
}

func (f *FileObjectReader) Open(_ context.Context) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("opening file at path %s: %w", f.path, err)
	}
	return file, nil
}

func NewS3ObjectReader(bucket, key string, client S3Client) *S3ObjectReader {
	return &S3ObjectReader{
		bucket: bucket,
		key:    key,
		client: client,
	}
}

type S3ObjectReader struct {
	bucket string
	key    string
	client S3Client
}

func (r *S3ObjectReader) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
	})
	if err != nil {
		return nil, fmt.Errorf("getting object s3://%s/%s: %w", r.bucket, r.key, err)
	}
	return out.Body, nil
}
