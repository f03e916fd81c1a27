package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/Lllllllleong/elasticprinter/internal/config"
	"github.com/Lllllllleong/elasticprinter/internal/logging"
	"github.com/Lllllllleong/elasticprinter/internal/models"
	"github.com/Lllllllleong/elasticprinter/internal/services"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	cfgFile string
	noColor bool
	stdin   io.Reader
}

func newRootCmd(stdin io.Reader) *cobra.Command {
	opts := &rootOptions{stdin: stdin}

	cmd := &cobra.Command{
		Use:   "elasticprinter job-id user title copies options [file]",
		Short: "CUPS backend that indexes print jobs in Elasticsearch",
		Long: `elasticprinter converts each print job to PDF, attaches job metadata and
indexes the result in Elasticsearch through an attachment ingest pipeline.

CUPS calls it with the job arguments. The subcommands are for operators.`,
		Args:          validateJobArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackend(cmd, opts, args)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file path")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newSetupCmd(opts),
		newSearchCmd(opts),
		newGetCmd(opts),
		newRecoverCmd(opts),
	)
	return cmd
}

func validateJobArgs(_ *cobra.Command, args []string) error {
	_, err := parseJob(args)
	return err
}

// parseJob turns the CUPS backend arguments into a job. InputPath is only set
// when a file argument is present.
func parseJob(args []string) (models.Job, error) {
	if len(args) < 5 || len(args) > 6 {
		return models.Job{}, models.UsageError(
			fmt.Sprintf("expected job-id user title copies options [file], got %d arguments", len(args)), nil)
	}
	copies, err := strconv.Atoi(args[3])
	if err != nil {
		return models.Job{}, models.UsageError(fmt.Sprintf("copies %q is not a number", args[3]), err)
	}
	if copies < 1 {
		return models.Job{}, models.UsageError(fmt.Sprintf("copies must be at least 1, got %d", copies), nil)
	}

	job := models.Job{
		ID:      args[0],
		User:    args[1],
		Title:   args[2],
		Copies:  copies,
		Options: args[4],
	}
	if len(args) == 6 {
		job.InputPath = args[5]
	}
	return job, nil
}

// setup loads configuration and builds the logger shared by every subcommand.
func setup(cmd *cobra.Command, opts *rootOptions) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(opts.cfgFile)
	if err != nil {
		return nil, nil, nil, models.ConfigError("failed to load configuration", err)
	}
	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		File:   cfg.Logging.File,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, nil, models.ConfigError("failed to set up logging", err)
	}
	return cfg, logger, func() { _ = closeLog() }, nil
}

// signalContext cancels on SIGINT or SIGTERM. CUPS sends SIGTERM when a job is cancelled.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runBackend(cmd *cobra.Command, opts *rootOptions, args []string) error {
	job, err := parseJob(args)
	if err != nil {
		return err
	}
	cfg, logger, closeLog, err := setup(cmd, opts)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("ElasticPrinter backend started.", "args", args)

	if job.InputPath == "" {
		staged, err := stageStdin(opts.stdin, cfg.Processing.TempDir)
		if err != nil {
			logger.Error("Failed to read print stream from stdin.", "error", err)
			return err
		}
		defer func() {
			if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
				logger.Warn("Failed to remove staged input.", "path", staged, "error", err)
			}
		}()
		job.InputPath = staged
		logger.Info("Read print stream from stdin.", "path", staged)
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	pipeline, release := services.Build(ctx, cfg, services.EnvContext{}, logger)
	defer release()

	if err := pipeline.Process(ctx, job); err != nil {
		logger.Error("Print job processing failed.")
		return err
	}
	logger.Info("Print job processed successfully.")
	return nil
}

// stageStdin copies r into a temp file under dir and returns its path.
func stageStdin(r io.Reader, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp dir %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "stdin-*.ps")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to stage stdin: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to stage stdin: %w", err)
	}
	return f.Name(), nil
}
