package services

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/models"
	"golang.org/x/sync/errgroup"
)

// JobProcessor runs a single job. *Pipeline satisfies it.
type JobProcessor interface {
	Process(ctx context.Context, job models.Job) error
}

// CommandRunner runs a CUPS command line tool and returns its stdout.
type CommandRunner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// QueuedJob is a job waiting in the printer queue.
type QueuedJob struct {
	Name   string // e.g. ElasticPrinter-12
	Number int
}

// RecoveryResult is the outcome for one queued job.
type RecoveryResult struct {
	Queued QueuedJob
	Job    models.Job
	Size   int64
	Err    error
}

// Recovery reprocesses jobs left in the CUPS queue, for example after the
// backend crashed or was not yet installed.
type Recovery struct {
	cfg       config.RecoveryConfig
	processor JobProcessor
	runner    CommandRunner
	logger    *slog.Logger
	user      string
}

// NewRecovery returns a Recovery submitting jobs through processor. Jobs are
// attributed to user, or to the invoking user when empty.
func NewRecovery(cfg config.RecoveryConfig, processor JobProcessor, runner CommandRunner, user string, logger *slog.Logger) *Recovery {
	if runner == nil {
		runner = ExecRunner{}
	}
	if user == "" {
		user = InvokingUser()
	}
	return &Recovery{cfg: cfg, processor: processor, runner: runner, logger: logger, user: user}
}

// InvokingUser returns the user behind sudo if any, else $USER, else "unknown".
func InvokingUser() string {
	for _, k := range []string{"SUDO_USER", "USER"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return unknownUser
}

// Queue lists the printer's pending jobs.
func (r *Recovery) Queue(ctx context.Context) ([]QueuedJob, error) {
	out, err := r.runner.Output(ctx, "lpstat", "-o", r.cfg.Printer)
	if err != nil && len(out) == 0 {
		// lpstat exits non-zero on an empty queue on some systems.
		r.logger.Debug("lpstat returned no output.", "error", err)
		return nil, nil
	}
	return ParseQueue(out, r.cfg.Printer), nil
}

// ParseQueue extracts <printer>-<n> job names from lpstat -o output.
func ParseQueue(out []byte, printer string) []QueuedJob {
	prefix := printer + "-"
	var jobs []QueuedJob
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || !strings.HasPrefix(fields[0], prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(fields[0], prefix))
		if err != nil || n < 0 {
			continue
		}
		jobs = append(jobs, QueuedJob{Name: fields[0], Number: n})
	}
	return jobs
}

// SpoolPath returns the CUPS data file of the first document of job n.
func SpoolPath(spoolDir string, n int) string {
	return filepath.Join(spoolDir, fmt.Sprintf("d%05d-001", n))
}

// Run processes every queued job, cancelling each from the queue afterwards.
// It returns one result per queued job, in queue order.
func (r *Recovery) Run(ctx context.Context) ([]RecoveryResult, error) {
	queued, err := r.Queue(ctx)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Found queued jobs.", "printer", r.cfg.Printer, "count", len(queued))

	results := make([]RecoveryResult, len(queued))
	var eg errgroup.Group
	eg.SetLimit(r.cfg.Parallelism)

	for i, q := range queued {
		eg.Go(func() error {
			results[i] = r.recoverOne(ctx, q)
			return nil
		})
	}
	_ = eg.Wait()
	return results, nil
}

func (r *Recovery) recoverOne(ctx context.Context, q QueuedJob) RecoveryResult {
	logCtx := r.logger.With("queueJob", q.Name)
	res := RecoveryResult{
		Queued: q,
		Job: models.Job{
			ID:        fmt.Sprintf("browser-page-%d", q.Number),
			User:      r.user,
			Title:     fmt.Sprintf("Browser Page %d", q.Number),
			Copies:    1,
			InputPath: SpoolPath(r.cfg.SpoolDir, q.Number),
		},
	}

	defer func() {
		if _, err := r.runner.Output(ctx, "cancel", q.Name); err != nil {
			logCtx.Warn("Failed to remove job from queue.", "error", err)
		}
	}()

	info, err := os.Stat(res.Job.InputPath)
	if err != nil {
		res.Err = fmt.Errorf("spool file not found: %w", err)
		logCtx.Warn("Spool file not found.", "path", res.Job.InputPath)
		return res
	}
	res.Size = info.Size()

	if err := r.processor.Process(ctx, res.Job); err != nil {
		res.Err = err
		return res
	}
	logCtx.Info("Recovered queued job.", "jobId", res.Job.ID)
	return res
}
