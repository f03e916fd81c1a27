package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/elastic/elastictest"
	"github.com/Lllllllleong/elasticprinter/internal/logging"
	"github.com/Lllllllleong/elasticprinter/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLedger struct {
	mu      sync.Mutex
	entries []models.LedgerEntry
	err     error
}

func (l *recordingLedger) Update(_ context.Context, e models.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return l.err
}

func (l *recordingLedger) statuses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		out = append(out, e.Status)
	}
	return out
}

func (l *recordingLedger) last() models.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[len(l.entries)-1]
}

type fakeArchiver struct {
	calls int
	err   error
}

func (a *fakeArchiver) Archive(_ context.Context, path, docID string) (string, error) {
	a.calls++
	if a.err != nil {
		return "", a.err
	}
	return "gs://archive/" + docID + "/" + filepath.Base(path), nil
}

func pipelineConfig(t *testing.T, host string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Elasticsearch.Host = host
	cfg.Elasticsearch.Timeout = 5 * time.Second
	cfg.Processing.TempDir = filepath.Join(t.TempDir(), "work")
	return cfg
}

// newTestPipeline builds a pipeline whose converter only copies, so tests do
// not depend on cupsfilter or ghostscript being installed.
func newTestPipeline(cfg *config.Config, opts ...PipelineOption) *Pipeline {
	logger := logging.Discard()
	composer := NewComposer(MapContext{"PRINTER": "TestPrinter"}, logger)
	composer.now = func() time.Time { return fixedNow }
	base := []PipelineOption{
		WithConverter(NewConverter(cfg.Processing, logger, CopyStrategy{})),
		WithComposer(composer),
	}
	return NewPipeline(cfg, nil, logger, append(base, opts...)...)
}

func tempFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestProcess_IndexesWithCopyFallback(t *testing.T) {
	srv := elastictest.NewServer()
	defer srv.Close()
	cfg := pipelineConfig(t, srv.URL)
	ledger := &recordingLedger{}

	p := newTestPipeline(cfg, WithLedger(ledger))
	job := models.Job{ID: "42", User: "alice", Title: "Report", Copies: 1, InputPath: writeInput(t, "%!PS-Adobe-3.0")}

	require.NoError(t, p.Process(context.Background(), job))

	doc, ok := srv.Doc("print-jobs", "job-42")
	require.True(t, ok)
	assert.NotContains(t, doc, "data")
	assert.Contains(t, doc, "attachment")
	assert.Equal(t, "2024-03-09T14:05:07Z", doc["indexed_at"])

	pj := doc["print_job"].(map[string]any)
	assert.Equal(t, "42", pj["job_id"])
	assert.Equal(t, "alice", pj["user"])
	assert.Equal(t, "Report", pj["title"])
	assert.EqualValues(t, 1, pj["copies"])
	assert.Equal(t, "TestPrinter", pj["printer"])

	d := doc["document"].(map[string]any)
	assert.EqualValues(t, 14, d["file_size"])
	assert.EqualValues(t, 0, d["page_count"])

	assert.True(t, srv.HasIndex("print-jobs"))
	_, ok = srv.Pipeline("attachment")
	assert.True(t, ok)

	assert.Empty(t, tempFiles(t, cfg.Processing.TempDir))
	assert.Equal(t, []string{"RECEIVED", "CONVERTED", "INDEXED"}, ledger.statuses())
	assert.Len(t, ledger.last().FileHash, 64)
}

func TestProcess_SameJobTwiceKeepsOneDocument(t *testing.T) {
	srv := elastictest.NewServer()
	defer srv.Close()
	cfg := pipelineConfig(t, srv.URL)
	p := newTestPipeline(cfg)

	job := models.Job{ID: "7", User: "bob", Copies: 1, InputPath: writeInput(t, "payload")}
	require.NoError(t, p.Process(context.Background(), job))
	require.NoError(t, p.Process(context.Background(), job))

	assert.Equal(t, 1, srv.DocCount("print-jobs"))
}

func TestProcess_ScopedIDsKeepUsersApart(t *testing.T) {
	srv := elastictest.NewServer()
	defer srv.Close()
	cfg := pipelineConfig(t, srv.URL)
	cfg.Elasticsearch.ScopeIDsByUser = true
	p := newTestPipeline(cfg)

	in := writeInput(t, "payload")
	require.NoError(t, p.Process(context.Background(), models.Job{ID: "7", User: "bob", Copies: 1, InputPath: in}))
	require.NoError(t, p.Process(context.Background(), models.Job{ID: "7", User: "carol", Copies: 1, InputPath: in}))

	assert.Equal(t, 2, srv.DocCount("print-jobs"))
	_, ok := srv.Doc("print-jobs", "job-carol-7")
	assert.True(t, ok)
}

func TestProcess_AllConversionsFail(t *testing.T) {
	srv := elastictest.NewServer()
	defer srv.Close()
	cfg := pipelineConfig(t, srv.URL)
	cfg.Processing.CopyFallback = false
	ledger := &recordingLedger{}

	failing := &fakeStrategy{name: "ghostscript", content: []byte("partial"), err: errors.New("exit 1")}
	p := newTestPipeline(cfg,
		WithConverter(NewConverter(cfg.Processing, logging.Discard(), failing)),
		WithLedger(ledger),
	)

	err := p.Process(context.Background(), models.Job{ID: "1", User: "u", Copies: 1, InputPath: writeInput(t, "x")})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConversion))

	assert.Equal(t, 0, srv.DocCount("print-jobs"))
	assert.Empty(t, srv.Calls(), "index engine must not be contacted")
	assert.Empty(t, tempFiles(t, cfg.Processing.TempDir))
	assert.Equal(t, []string{"RECEIVED", "FAILED"}, ledger.statuses())
	assert.Contains(t, ledger.last().ErrorDetails, "all conversion methods failed")
}

func TestProcess_EngineUnreachable(t *testing.T) {
	cfg := pipelineConfig(t, "http://127.0.0.1:1")
	factory := func(ctx context.Context, c config.ElasticsearchConfig, _ *slog.Logger) (Indexer, error) {
		return nil, models.ConnectionError("cannot connect to Elasticsearch at "+c.Host, errors.New("connection refused"))
	}
	p := newTestPipeline(cfg, WithClientFactory(factory))

	err := p.Process(context.Background(), models.Job{ID: "1", User: "u", Copies: 1, InputPath: writeInput(t, "x")})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConnection))
	assert.Empty(t, tempFiles(t, cfg.Processing.TempDir))
}

func TestProcess_RealClientUnreachable(t *testing.T) {
	srv := elastictest.NewServer()
	url := srv.URL
	srv.Close()

	cfg := pipelineConfig(t, url)
	p := newTestPipeline(cfg)

	err := p.Process(context.Background(), models.Job{ID: "1", User: "u", Copies: 1, InputPath: writeInput(t, "x")})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConnection))
	assert.Empty(t, tempFiles(t, cfg.Processing.TempDir))
}

func TestProcess_IndexRejected(t *testing.T) {
	srv := elastictest.NewServer()
	defer srv.Close()
	srv.IndexStatus = 400
	cfg := pipelineConfig(t, srv.URL)
	p := newTestPipeline(cfg)

	err := p.Process(context.Background(), models.Job{ID: "1", User: "u", Copies: 1, InputPath: writeInput(t, "x")})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindIndexSubmission))
	assert.Empty(t, tempFiles(t, cfg.Processing.TempDir))
}

func TestProcess_KeepPDFs(t *testing.T) {
	srv := elastictest.NewServer()
	defer srv.Close()
	cfg := pipelineConfig(t, srv.URL)
	cfg.Processing.KeepPDFs = true
	p := newTestPipeline(cfg)

	require.NoError(t, p.Process(context.Background(), models.Job{ID: "5", User: "dave", Copies: 1, InputPath: writeInput(t, "x")}))

	files := tempFiles(t, cfg.Processing.TempDir)
	require.Len(t, files, 1)
	assert.Regexp(t, `^print_job_dave_5_\d{8}_\d{6}\.pdf$`, files[0])
}

func TestProcess_LedgerAndArchiveFailuresAreNotFatal(t *testing.T) {
	srv := elastictest.NewServer()
	defer srv.Close()
	cfg := pipelineConfig(t, srv.URL)
	ledger := &recordingLedger{err: errors.New("firestore unavailable")}
	archiver := &fakeArchiver{err: errors.New("bucket gone")}
	p := newTestPipeline(cfg, WithLedger(ledger), WithArchiver(archiver))

	require.NoError(t, p.Process(context.Background(), models.Job{ID: "3", User: "u", Copies: 1, InputPath: writeInput(t, "x")}))

	assert.Equal(t, 1, archiver.calls)
	assert.Equal(t, 1, srv.DocCount("print-jobs"))
	assert.Equal(t, []string{"RECEIVED", "CONVERTED", "INDEXED"}, ledger.statuses())
	assert.Empty(t, ledger.last().ArchiveURI)
}

func TestProcess_ArchiveURIRecorded(t *testing.T) {
	srv := elastictest.NewServer()
	defer srv.Close()
	cfg := pipelineConfig(t, srv.URL)
	ledger := &recordingLedger{}
	p := newTestPipeline(cfg, WithLedger(ledger), WithArchiver(&fakeArchiver{}))

	require.NoError(t, p.Process(context.Background(), models.Job{ID: "3", User: "u", Copies: 1, InputPath: writeInput(t, "x")}))

	assert.Regexp(t, `^gs://archive/job-3/print_job_u_3_`, ledger.last().ArchiveURI)
}

func TestCalculateFileHash(t *testing.T) {
	path := writeInput(t, "abc")
	hash, err := calculateFileHash(path)
	require.NoError(t, err)
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)
}

func TestBuild_WithoutCollaborators(t *testing.T) {
	cfg := pipelineConfig(t, "http://localhost:9200")

	p, release := Build(context.Background(), cfg, nil, logging.Discard())
	defer release()

	assert.Nil(t, p.ledger)
	assert.Nil(t, p.archiver)
	assert.NotNil(t, p.converter)
	assert.NotNil(t, p.composer)
}
