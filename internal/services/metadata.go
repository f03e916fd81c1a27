package services

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/elasticprinter/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// JobContext supplies the ambient attributes of a print job. CUPS passes them
// as environment variables; the cloud function passes them as object metadata.
type JobContext interface {
	Lookup(key string) (string, bool)
}

// EnvContext reads job attributes from the process environment.
type EnvContext struct{}

func (EnvContext) Lookup(key string) (string, bool) { return os.LookupEnv(key) }

// MapContext reads job attributes from a fixed map.
type MapContext map[string]string

func (m MapContext) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

const (
	defaultPrinter  = "ElasticPrinter"
	defaultHostname = "localhost"
	defaultTitle    = "Untitled"
	unknownUser     = "unknown"
)

// passthroughKeys are copied lower-cased into the job record when non-empty.
var passthroughKeys = []string{
	"DEVICE_URI",
	"PRINTER_INFO",
	"PRINTER_LOCATION",
	"CONTENT_TYPE",
	"CHARSET",
	"LANG",
}

// Composer builds the metadata record stored alongside each document.
type Composer struct {
	jobCtx      JobContext
	logger      *slog.Logger
	now         func() time.Time
	currentUser func() string
}

// NewComposer returns a composer reading job attributes from jobCtx.
func NewComposer(jobCtx JobContext, logger *slog.Logger) *Composer {
	if jobCtx == nil {
		jobCtx = EnvContext{}
	}
	return &Composer{
		jobCtx:      jobCtx,
		logger:      logger,
		now:         time.Now,
		currentUser: osUser,
	}
}

func osUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}

func (c *Composer) lookup(key, fallback string) string {
	if v, ok := c.jobCtx.Lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

// FromJobContext returns the print_job record for job.
func (c *Composer) FromJobContext(job models.Job) map[string]any {
	u := job.User
	if u == "" {
		u = c.currentUser()
	}
	if u == "" {
		u = unknownUser
	}
	title := job.Title
	if title == "" {
		title = defaultTitle
	}

	rec := map[string]any{
		"job_id":    job.ID,
		"user":      u,
		"title":     title,
		"copies":    job.Copies,
		"timestamp": c.now().Format(time.RFC3339),
		"printer":   c.lookup("PRINTER", defaultPrinter),
		"hostname":  c.lookup("HOSTNAME", defaultHostname),
	}
	for _, k := range passthroughKeys {
		if v, ok := c.jobCtx.Lookup(k); ok && v != "" {
			rec[strings.ToLower(k)] = v
		}
	}
	return rec
}

// FromDocument returns the document record for the converted file at path.
// Extraction problems are logged and leave zero values in place.
func (c *Composer) FromDocument(path string) map[string]any {
	rec := map[string]any{
		"file_size":    int64(0),
		"page_count":   0,
		"pdf_metadata": map[string]string{},
	}
	logCtx := c.logger.With("path", path)

	info, err := os.Stat(path)
	if err != nil {
		logCtx.Warn("Could not read document metadata.", "error", models.MetadataExtractionError("stat document", err))
		return rec
	}
	rec["file_size"] = info.Size()

	pages, props, err := readPDFInfo(path)
	if err != nil {
		logCtx.Warn("Could not read document metadata.", "error", models.MetadataExtractionError("parse document", err))
		return rec
	}
	rec["page_count"] = pages
	rec["pdf_metadata"] = props
	return rec
}

// Combine assembles the final record from the job and document records.
func (c *Composer) Combine(job, doc map[string]any) map[string]any {
	return map[string]any{
		"print_job":  job,
		"document":   doc,
		"indexed_at": c.now().Format(time.RFC3339),
	}
}

// pdfcpuSetup keeps pdfcpu from touching $HOME. Its default configuration
// exits the process when the config directory cannot be created, which is
// common for the lp user CUPS runs backends as.
var pdfcpuSetup sync.Once

func readPDFInfo(path string) (int, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	pdfcpuSetup.Do(api.DisableConfigDir)
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return 0, nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	props := map[string]string{}
	set := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			props[k] = v
		}
	}
	set("Title", ctx.Title)
	set("Author", ctx.Author)
	set("Subject", ctx.Subject)
	set("Keywords", ctx.Keywords)
	set("Creator", ctx.Creator)
	set("Producer", ctx.Producer)
	set("CreationDate", ctx.XRefTable.CreationDate)
	set("ModDate", ctx.XRefTable.ModDate)
	for k, v := range ctx.Properties {
		set(strings.TrimPrefix(k, "/"), v)
	}
	return ctx.PageCount, props, nil
}
