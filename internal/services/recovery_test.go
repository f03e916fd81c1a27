package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/logging"
	"github.com/Lllllllleong/elasticprinter/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lpstatOutput = `ElasticPrinter-12       alice           2048   Mon Mar  4 10:00:00 2024
ElasticPrinter-13       alice          10240   Mon Mar  4 10:01:00 2024
OtherPrinter-14         bob             1024   Mon Mar  4 10:02:00 2024
ElasticPrinter-x        alice            512   Mon Mar  4 10:03:00 2024
`

type fakeRunner struct {
	mu     sync.Mutex
	lpstat []byte
	err    error
	calls  []string
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(append([]string{name}, args...), " "))
	if name == "lpstat" {
		return f.lpstat, f.err
	}
	return nil, nil
}

type fakeProcessor struct {
	mu   sync.Mutex
	jobs []models.Job
	fail map[string]error
}

func (f *fakeProcessor) Process(_ context.Context, job models.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return f.fail[job.ID]
}

func TestParseQueue(t *testing.T) {
	jobs := ParseQueue([]byte(lpstatOutput), "ElasticPrinter")
	assert.Equal(t, []QueuedJob{
		{Name: "ElasticPrinter-12", Number: 12},
		{Name: "ElasticPrinter-13", Number: 13},
	}, jobs)

	assert.Empty(t, ParseQueue(nil, "ElasticPrinter"))
}

func TestSpoolPath(t *testing.T) {
	assert.Equal(t, "/var/spool/cups/d00012-001", SpoolPath("/var/spool/cups", 12))
	assert.Equal(t, "/spool/d123456-001", SpoolPath("/spool", 123456))
}

func TestInvokingUser(t *testing.T) {
	t.Setenv("SUDO_USER", "alice")
	t.Setenv("USER", "root")
	assert.Equal(t, "alice", InvokingUser())

	t.Setenv("SUDO_USER", "")
	assert.Equal(t, "root", InvokingUser())

	t.Setenv("USER", "")
	assert.Equal(t, "unknown", InvokingUser())
}

func TestRecovery_Run(t *testing.T) {
	spool := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(spool, "d00012-001"), []byte("%!PS"), 0o644))
	// Job 13 has no spool file.

	runner := &fakeRunner{lpstat: []byte(lpstatOutput)}
	proc := &fakeProcessor{}
	cfg := config.RecoveryConfig{Printer: "ElasticPrinter", SpoolDir: spool, Parallelism: 2}

	results, err := NewRecovery(cfg, proc, runner, "alice", logging.Discard()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	ok := results[0]
	assert.NoError(t, ok.Err)
	assert.Equal(t, int64(4), ok.Size)
	assert.Equal(t, models.Job{
		ID:        "browser-page-12",
		User:      "alice",
		Title:     "Browser Page 12",
		Copies:    1,
		InputPath: filepath.Join(spool, "d00012-001"),
	}, ok.Job)

	assert.Error(t, results[1].Err)
	assert.Len(t, proc.jobs, 1)

	assert.Contains(t, runner.calls, "lpstat -o ElasticPrinter")
	assert.Contains(t, runner.calls, "cancel ElasticPrinter-12")
	assert.Contains(t, runner.calls, "cancel ElasticPrinter-13")
}

func TestRecovery_ProcessingFailureIsReported(t *testing.T) {
	spool := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(spool, "d00012-001"), []byte("x"), 0o644))

	boom := errors.New("index down")
	proc := &fakeProcessor{fail: map[string]error{"browser-page-12": boom}}
	runner := &fakeRunner{lpstat: []byte("ElasticPrinter-12 alice 1 now\n")}
	cfg := config.RecoveryConfig{Printer: "ElasticPrinter", SpoolDir: spool, Parallelism: 1}

	results, err := NewRecovery(cfg, proc, runner, "alice", logging.Discard()).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.Contains(t, runner.calls, "cancel ElasticPrinter-12")
}

func TestRecovery_EmptyQueue(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	cfg := config.RecoveryConfig{Printer: "ElasticPrinter", SpoolDir: t.TempDir(), Parallelism: 1}

	results, err := NewRecovery(cfg, &fakeProcessor{}, runner, "", logging.Discard()).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}
