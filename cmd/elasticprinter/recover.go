package main

import (
	"fmt"
	"io"

	"github.com/Lllllllleong/elasticprinter/internal/services"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newRecoverCmd(opts *rootOptions) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Index jobs stuck in the CUPS queue",
		Long: `Reprocess every job waiting in the printer queue through the pipeline and
remove it from the queue afterwards. Usually run as root so the spool
directory is readable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			cfg, logger, closeLog, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			pipeline, release := services.Build(ctx, cfg, services.EnvContext{}, logger)
			defer release()

			results, err := services.NewRecovery(cfg.Recovery, pipeline, nil, user, logger).Run(ctx)
			if err != nil {
				return err
			}
			if failed := printSummary(cmd.OutOrStdout(), results); failed > 0 {
				return fmt.Errorf("%d of %d queued jobs failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "attribute jobs to this user (default $SUDO_USER or $USER)")
	return cmd
}

// printSummary writes one line per job and the totals. It returns the failure count.
func printSummary(w io.Writer, results []services.RecoveryResult) int {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)
	bold := color.New(color.Bold)

	if len(results) == 0 {
		ok.Fprintln(w, "✓ No jobs in queue")
		return 0
	}

	failed := 0
	for i, r := range results {
		prefix := fmt.Sprintf("[%d/%d] %s -> %s", i+1, len(results), r.Queued.Name, r.Job.ID)
		if r.Err != nil {
			failed++
			bad.Fprintf(w, "✗ %s: %v\n", prefix, r.Err)
			continue
		}
		ok.Fprintf(w, "✓ %s (%.1f MB)\n", prefix, float64(r.Size)/(1024*1024))
	}

	bold.Fprintln(w, "Summary")
	ok.Fprintf(w, "  processed: %d\n", len(results)-failed)
	bad.Fprintf(w, "  failed:    %d\n", failed)
	fmt.Fprintf(w, "  total:     %d\n", len(results))
	return failed
}
