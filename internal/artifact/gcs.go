package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ObjectWriterFactory opens a writer for a new object. It exists so tests
// can stand in for a bucket.
type ObjectWriterFactory func(ctx context.Context, object string) ObjectWriter

// ObjectWriter is the subset of *storage.Writer used by GCSSink.
type ObjectWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// GCSSink archives invoices in a Cloud Storage bucket. Objects are created
// with a DoesNotExist precondition, so an invoice is never overwritten; an
// existing object is skipped.
type GCSSink struct {
	bucket string
	prefix string
	open   ObjectWriterFactory
	logger *slog.Logger
}

// NewGCSSink creates a sink for bucket using client.
func NewGCSSink(client *storage.Client, bucket, prefix string, logger *slog.Logger) *GCSSink {
	handle := client.Bucket(bucket)
	return newGCSSink(bucket, prefix, func(ctx context.Context, object string) ObjectWriter {
		w := handle.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		w.ContentType = "application/pdf"
		return w
	}, logger)
}

func newGCSSink(bucket, prefix string, open ObjectWriterFactory, logger *slog.Logger) *GCSSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSSink{
		bucket: bucket,
		prefix: prefix,
		open:   open,
		logger: logger.With("component", "archive", "bucket", bucket),
	}
}

// Put uploads data as <prefix>/<name>.pdf and returns its gs:// URL. An
// existing object is left untouched and Put returns an empty location.
func (s *GCSSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	object := path.Join(s.prefix, name+".pdf")
	location := fmt.Sprintf("gs://%s/%s", s.bucket, object)

	w := s.open(ctx, object)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		if exists(err) {
			s.logger.Warn("archive object already exists, keeping the stored copy", "object", object)
			return "", nil
		}
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		if exists(err) {
			s.logger.Warn("archive object already exists, keeping the stored copy", "object", object)
			return "", nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return location, nil
}

func exists(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
