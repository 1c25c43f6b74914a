package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Sink stores an encoded export under a name.
type Sink interface {
	Put(ctx context.Context, name string, r io.Reader, contentType string) error
}

// LocalSink writes exports into a directory, creating it as needed.
type LocalSink struct {
	Dir string
}

// Put writes r to Dir/name.
func (s LocalSink) Put(_ context.Context, name string, r io.Reader, _ string) error {
	full := filepath.Join(s.Dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(full)
	if err != nil {
		return fmt.Errorf("create %s: %w", full, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", full, err)
	}
	return f.Close()
}

func (s LocalSink) String() string {
	if s.Dir == "" {
		return "local:."
	}
	return "local:" + s.Dir
}

// GCSSink uploads exports to a Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink connects to Cloud Storage. Objects are written as prefix/name.
func NewGCSSink(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSSink, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs sink: bucket is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs sink: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

// Object returns the object path name is stored at.
func (s *GCSSink) Object(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put uploads r.
func (s *GCSSink) Put(ctx context.Context, name string, r io.Reader, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(s.Object(name)).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", s.Object(name), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", s.Object(name), err)
	}
	return nil
}

// Close releases the client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

func (s *GCSSink) String() string {
	return "gs://" + s.bucket + "/" + s.prefix
}
