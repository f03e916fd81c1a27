package gcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// NewStorageClient creates a GCS client.
func NewStorageClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return client, nil
}

// GCSArchive uploads converted documents to a bucket.
type GCSArchive struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCSArchive returns an archive writing to bucket.
func NewGCSArchive(client *storage.Client, bucket string, logger *slog.Logger) *GCSArchive {
	return &GCSArchive{client: client, bucket: bucket, logger: logger}
}

// ArchiveObjectName returns the object name a document is archived under.
func ArchiveObjectName(docID, path string) string {
	return docID + "/" + filepath.Base(path)
}

// Archive uploads the file at path under <docID>/<basename> and returns its gs:// URI.
// An object that already exists counts as archived.
func (a *GCSArchive) Archive(ctx context.Context, path, docID string) (string, error) {
	objectName := ArchiveObjectName(docID, path)
	uri := fmt.Sprintf("gs://%s/%s", a.bucket, objectName)

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	existed, err := SaveToGCSAtomically(ctx, a.client.Bucket(a.bucket), objectName, f)
	if err != nil {
		return "", err
	}
	if existed {
		a.logger.Info("Document already archived. Skipping.", "archiveUri", uri)
	} else {
		a.logger.Info("Archived document.", "archiveUri", uri)
	}
	return uri, nil
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
// It reports whether the object was already there.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName string, content io.Reader) (bool, error) {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/pdf"

	if _, err := io.Copy(writer, content); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return false, nil
}

// DownloadObject streams gs://bucket/object into destPath.
func DownloadObject(ctx context.Context, client *storage.Client, bucket, object, destPath string) error {
	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, object, err)
	}
	defer reader.Close()

	localFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file at %s: %w", destPath, err)
	}
	defer localFile.Close()

	if _, err := io.Copy(localFile, reader); err != nil {
		return fmt.Errorf("failed to copy GCS object to local file: %w", err)
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
