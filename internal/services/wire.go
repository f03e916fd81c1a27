package services

import (
	"context"
	"log/slog"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/gcp"
)

// Build wires a Pipeline from configuration with the optional collaborators
// returned by Collaborators. The returned function releases them.
func Build(ctx context.Context, cfg *config.Config, jobCtx JobContext, logger *slog.Logger, opts ...PipelineOption) (*Pipeline, func()) {
	collab, release := Collaborators(ctx, cfg, logger)
	return NewPipeline(cfg, jobCtx, logger, append(collab, opts...)...), release
}

// Collaborators opens the Firestore ledger and the GCS archive when they are
// configured. Neither is required for indexing, so failing to open one is
// logged and the pipeline runs without it.
func Collaborators(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]PipelineOption, func()) {
	var (
		opts    []PipelineOption
		closers []func()
	)

	if cfg.Ledger.ProjectID != "" {
		ledger, err := gcp.NewFirestoreLedger(ctx, cfg.Ledger.ProjectID, cfg.Ledger.Collection)
		if err != nil {
			logger.Warn("Job ledger unavailable. Continuing without it.", "projectId", cfg.Ledger.ProjectID, "error", err)
		} else {
			opts = append(opts, WithLedger(ledger))
			closers = append(closers, func() {
				if err := ledger.Close(); err != nil {
					logger.Debug("Failed to close ledger client.", "error", err)
				}
			})
		}
	}

	if cfg.Archive.Bucket != "" {
		client, err := gcp.NewStorageClient(ctx)
		if err != nil {
			logger.Warn("Document archive unavailable. Continuing without it.", "bucket", cfg.Archive.Bucket, "error", err)
		} else {
			opts = append(opts, WithArchiver(gcp.NewGCSArchive(client, cfg.Archive.Bucket, logger)))
			closers = append(closers, func() {
				if err := client.Close(); err != nil {
					logger.Debug("Failed to close storage client.", "error", err)
				}
			})
		}
	}

	return opts, func() {
		for _, c := range closers {
			c()
		}
	}
}
