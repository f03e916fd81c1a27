package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/models"
)

// Strategy is one way of turning a print stream into a PDF.
type Strategy interface {
	Name() string
	TryConvert(ctx context.Context, in, out string) error
}

// CommandStrategy runs an external converter binary.
type CommandStrategy struct {
	name string
	bin  string
	args func(in, out string) []string
	// stdout means the binary writes the document to stdout instead of out.
	stdout bool
}

// NewCommandStrategy builds a strategy around bin. When toStdout is set, the
// command's stdout is captured into the output file.
func NewCommandStrategy(name, bin string, toStdout bool, args func(in, out string) []string) *CommandStrategy {
	return &CommandStrategy{name: name, bin: bin, args: args, stdout: toStdout}
}

// CupsFilter converts through the CUPS filter chain.
func CupsFilter() *CommandStrategy {
	return NewCommandStrategy("cupsfilter", "cupsfilter", true, func(in, _ string) []string {
		return []string{"-m", "application/pdf", in}
	})
}

// PSToPDF converts with the macOS pstopdf tool.
func PSToPDF() *CommandStrategy {
	return NewCommandStrategy("pstopdf", "pstopdf", false, func(in, out string) []string {
		return []string{in, "-o", out}
	})
}

// Ghostscript distills PostScript to PDF 1.4.
func Ghostscript() *CommandStrategy {
	return NewCommandStrategy("ghostscript", "gs", false, func(in, out string) []string {
		return []string{
			"-dBATCH", "-dNOPAUSE", "-sDEVICE=pdfwrite",
			"-dCompatibilityLevel=1.4", "-dPDFSETTINGS=/printer",
			"-sOutputFile=" + out, in,
		}
	})
}

func (s *CommandStrategy) Name() string { return s.name }

func (s *CommandStrategy) TryConvert(ctx context.Context, in, out string) error {
	path, err := exec.LookPath(s.bin)
	if err != nil {
		return fmt.Errorf("%s not available: %w", s.bin, err)
	}

	cmd := exec.CommandContext(ctx, path, s.args(in, out)...)
	// cupsfilter and gs spawn children; on timeout the whole group goes.
	killProcessGroup(cmd)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if s.stdout {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		cmd.Stdout = f
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s timed out: %w", s.bin, ctx.Err())
		}
		return fmt.Errorf("%s failed: %w: %s", s.bin, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// waitDelay bounds how long Run waits for output pipes after the command is
// killed, in case a descendant escaped the process group and kept them open.
const waitDelay = time.Second

// CopyStrategy passes the input through unchanged. It is the last resort.
type CopyStrategy struct{}

func (CopyStrategy) Name() string { return "copy" }

func (CopyStrategy) TryConvert(ctx context.Context, in, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to copy input: %w", err)
	}
	return dst.Close()
}

// DefaultStrategies returns the conversion chain in the order it is tried.
func DefaultStrategies(copyFallback bool) []Strategy {
	s := []Strategy{CupsFilter(), PSToPDF(), Ghostscript()}
	if copyFallback {
		s = append(s, CopyStrategy{})
	}
	return s
}

// Converter turns raw print streams into PDFs in a temp directory.
type Converter struct {
	tempDir    string
	timeout    time.Duration
	strategies []Strategy
	logger     *slog.Logger
	now        func() time.Time
}

// NewConverter builds a converter. With no strategies given it uses
// DefaultStrategies according to cfg.CopyFallback.
func NewConverter(cfg config.ProcessingConfig, logger *slog.Logger, strategies ...Strategy) *Converter {
	if len(strategies) == 0 {
		strategies = DefaultStrategies(cfg.CopyFallback)
	}
	return &Converter{
		tempDir:    cfg.TempDir,
		timeout:    cfg.ConversionTimeout,
		strategies: strategies,
		logger:     logger,
		now:        time.Now,
	}
}

// Convert runs the strategies in order until one produces a non-empty file and
// returns its path.
func (c *Converter) Convert(ctx context.Context, job models.Job) (string, error) {
	logCtx := c.logger.With("jobId", job.ID)

	if _, err := os.Stat(job.InputPath); err != nil {
		return "", models.ConversionError("input not readable", err)
	}
	if err := os.MkdirAll(c.tempDir, 0o755); err != nil {
		return "", models.ConversionError(fmt.Sprintf("failed to create temp dir %s", c.tempDir), err)
	}

	out := filepath.Join(c.tempDir, GenerateFilename(job, c.now()))
	var errs []error
	for _, s := range c.strategies {
		err := c.try(ctx, s, job.InputPath, out)
		if err == nil {
			logCtx.Info("Converted print job.", "strategy", s.Name(), "path", out)
			return out, nil
		}
		logCtx.Debug("Conversion strategy failed.", "strategy", s.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if rmErr := os.Remove(out); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logCtx.Warn("Failed to remove partial output.", "path", out, "error", rmErr)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return "", models.ConversionError(fmt.Sprintf("all conversion methods failed for job %s", job.ID), errors.Join(errs...))
}

func (c *Converter) try(ctx context.Context, s Strategy, in, out string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := s.TryConvert(ctx, in, out); err != nil {
		return err
	}
	info, err := os.Stat(out)
	if err != nil {
		return fmt.Errorf("no output produced: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("empty output")
	}
	return nil
}

// Cleanup removes a converted document. Failures are logged, never returned.
func (c *Converter) Cleanup(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Failed to remove converted document.", "path", path,
			"error", models.CleanupError("remove "+path, err))
		return
	}
	c.logger.Debug("Removed converted document.", "path", path)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// GenerateFilename returns print_job_<user>_<jobid>_<YYYYmmdd_HHMMSS>.pdf with
// path-unsafe characters replaced.
func GenerateFilename(job models.Job, t time.Time) string {
	user := job.User
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("print_job_%s_%s_%s.pdf",
		unsafeNameChars.ReplaceAllString(user, "_"),
		unsafeNameChars.ReplaceAllString(job.ID, "_"),
		t.Format("20060102_150405"))
}
