// Package services holds the print job pipeline: conversion, metadata
// composition, indexing and the bookkeeping around them.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/elastic"
	"github.com/Lllllllleong/elasticprinter/internal/models"
	"github.com/google/uuid"
)

// Indexer is the part of the index client the pipeline uses.
type Indexer interface {
	EnsureIndex(ctx context.Context) error
	EnsurePipeline(ctx context.Context) error
	IndexDocument(ctx context.Context, path string, metadata map[string]any, docID string) (*models.IndexResponse, error)
	Close()
}

// ClientFactory opens an Indexer for one pipeline run.
type ClientFactory func(ctx context.Context, cfg config.ElasticsearchConfig, logger *slog.Logger) (Indexer, error)

// NewElasticClient is the ClientFactory used outside tests.
func NewElasticClient(ctx context.Context, cfg config.ElasticsearchConfig, logger *slog.Logger) (Indexer, error) {
	c, err := elastic.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Ledger records job progress. Failures are logged by the pipeline, never fatal.
type Ledger interface {
	Update(ctx context.Context, entry models.LedgerEntry) error
}

// Archiver keeps a copy of each indexed document.
type Archiver interface {
	Archive(ctx context.Context, path, docID string) (string, error)
}

// Pipeline runs one print job from raw stream to indexed document.
type Pipeline struct {
	cfg       *config.Config
	logger    *slog.Logger
	converter *Converter
	composer  *Composer
	newClient ClientFactory
	ledger    Ledger
	archiver  Archiver
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithClientFactory replaces the index client constructor.
func WithClientFactory(f ClientFactory) PipelineOption {
	return func(p *Pipeline) { p.newClient = f }
}

// WithConverter replaces the default converter.
func WithConverter(c *Converter) PipelineOption {
	return func(p *Pipeline) { p.converter = c }
}

// WithComposer replaces the default metadata composer.
func WithComposer(c *Composer) PipelineOption {
	return func(p *Pipeline) { p.composer = c }
}

// WithLedger enables the job ledger.
func WithLedger(l Ledger) PipelineOption {
	return func(p *Pipeline) { p.ledger = l }
}

// WithArchiver enables document archiving.
func WithArchiver(a Archiver) PipelineOption {
	return func(p *Pipeline) { p.archiver = a }
}

// NewPipeline wires a pipeline from configuration. jobCtx supplies the
// ambient job attributes; nil means the process environment.
func NewPipeline(cfg *config.Config, jobCtx JobContext, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		logger:    logger,
		converter: NewConverter(cfg.Processing, logger),
		composer:  NewComposer(jobCtx, logger),
		newClient: NewElasticClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process converts, describes and indexes one job. The converted document is
// removed on every exit path unless processing.keep_pdfs is set.
func (p *Pipeline) Process(ctx context.Context, job models.Job) (err error) {
	docID := elastic.DocumentID(job, p.cfg.Elasticsearch.ScopeIDsByUser)
	logCtx := p.logger.With("jobId", job.ID, "user", job.User, "docId", docID, "runId", uuid.NewString())
	logCtx.Info("Processing print job.", "title", job.Title, "copies", job.Copies, "options", job.Options)

	entry := models.LedgerEntry{DocID: docID, JobID: job.ID, User: job.User}
	p.record(ctx, logCtx, entry, models.StatusReceived)

	var pdfPath string
	defer func() {
		if err != nil {
			logCtx.Error("Print job failed.", "error", err)
			failed := entry
			failed.ErrorDetails = err.Error()
			p.record(ctx, logCtx, failed, models.StatusFailed)
		}
		if pdfPath == "" {
			return
		}
		if p.cfg.Processing.KeepPDFs {
			logCtx.Info("Keeping converted document.", "path", pdfPath)
			return
		}
		p.converter.Cleanup(pdfPath)
	}()

	pdfPath, err = p.converter.Convert(ctx, job)
	if err != nil {
		return err
	}

	if hash, hashErr := calculateFileHash(pdfPath); hashErr != nil {
		logCtx.Warn("Failed to calculate file hash.", "error", hashErr)
	} else {
		entry.FileHash = hash
		logCtx = logCtx.With("fileHash", hash)
	}
	p.record(ctx, logCtx, entry, models.StatusConverted)

	record := p.composer.Combine(p.composer.FromJobContext(job), p.composer.FromDocument(pdfPath))

	res, err := p.index(ctx, logCtx, pdfPath, record, docID)
	if err != nil {
		return err
	}

	if p.archiver != nil {
		uri, archErr := p.archiver.Archive(ctx, pdfPath, docID)
		if archErr != nil {
			logCtx.Warn("Failed to archive document.", "error", archErr)
		} else {
			entry.ArchiveURI = uri
		}
	}
	p.record(ctx, logCtx, entry, models.StatusIndexed)

	logCtx.Info("Print job indexed.", "result", res.Result, "version", res.Version)
	return nil
}

func (p *Pipeline) index(ctx context.Context, logCtx *slog.Logger, path string, record map[string]any, docID string) (*models.IndexResponse, error) {
	client, err := p.newClient(ctx, p.cfg.Elasticsearch, logCtx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.EnsureIndex(ctx); err != nil {
		logCtx.Warn("Could not ensure index exists.", "error", err)
	}
	if err := client.EnsurePipeline(ctx); err != nil {
		logCtx.Warn("Could not ensure ingest pipeline exists.", "error", err)
	}
	return client.IndexDocument(ctx, path, record, docID)
}

func (p *Pipeline) record(ctx context.Context, logCtx *slog.Logger, entry models.LedgerEntry, status string) {
	if p.ledger == nil {
		return
	}
	entry.Status = status
	entry.UpdatedAt = time.Now().UTC()
	if err := p.ledger.Update(ctx, entry); err != nil {
		logCtx.Warn("Failed to update job ledger.", "status", status, "error", err)
	}
}

func calculateFileHash(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", filePath, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
