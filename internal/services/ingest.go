package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/gcp"
	"github.com/Lllllllleong/elasticprinter/internal/models"
)

// BucketIngester indexes spool files uploaded to a GCS bucket. Job fields
// travel as object metadata: jobId, user, title, copies.
type BucketIngester struct {
	cfg      *config.Config
	logger   *slog.Logger
	download func(ctx context.Context, bucket, object, destPath string) error
	opts     []PipelineOption
}

// NewBucketIngester opens the storage client and the configured collaborators.
// Clients live as long as the function instance.
func NewBucketIngester(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*BucketIngester, error) {
	client, err := gcp.NewStorageClient(ctx)
	if err != nil {
		return nil, err
	}
	opts, _ := Collaborators(ctx, cfg, logger)

	logger.Info("Print ingester initialized.", "index", cfg.Elasticsearch.Index)
	return &BucketIngester{
		cfg:    cfg,
		logger: logger,
		download: func(ctx context.Context, bucket, object, destPath string) error {
			return gcp.DownloadObject(ctx, client, bucket, object, destPath)
		},
		opts: opts,
	}, nil
}

// Ingest downloads the object named by e and runs it through the pipeline.
// The downloaded file is always removed.
func (b *BucketIngester) Ingest(ctx context.Context, e models.GCSEvent) error {
	logCtx := b.logger.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	job, err := JobFromEvent(e)
	if err != nil {
		logCtx.Error("Rejected object metadata.", "error", err)
		return err
	}

	if err := os.MkdirAll(b.cfg.Processing.TempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	f, err := os.CreateTemp(b.cfg.Processing.TempDir, "gcs-*.ps")
	if err != nil {
		return fmt.Errorf("failed to create staging file: %w", err)
	}
	staged := f.Name()
	f.Close()
	defer func() {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			logCtx.Warn("Failed to remove staged object.", "path", staged, "error", err)
		}
	}()

	if err := b.download(ctx, e.Bucket, e.Name, staged); err != nil {
		logCtx.Error("Failed to download spool file.", "error", err)
		return err
	}
	job.InputPath = staged

	pipeline := NewPipeline(b.cfg, MapContext(e.Metadata), b.logger, b.opts...)
	return pipeline.Process(ctx, job)
}

// JobFromEvent builds a job from object metadata. jobId defaults to the
// object name and copies to 1.
func JobFromEvent(e models.GCSEvent) (models.Job, error) {
	meta := e.Metadata
	job := models.Job{
		ID:     meta["jobId"],
		User:   meta["user"],
		Title:  meta["title"],
		Copies: 1,
	}
	if job.ID == "" {
		job.ID = e.Name
	}
	if job.ID == "" {
		return models.Job{}, models.UsageError("event names no object", nil)
	}
	if v := meta["copies"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return models.Job{}, models.UsageError(fmt.Sprintf("copies %q is not a number", v), err)
		}
		if n < 1 {
			return models.Job{}, models.UsageError(fmt.Sprintf("copies must be at least 1, got %d", n), nil)
		}
		job.Copies = n
	}
	return job, nil
}
