package main

import (
	"encoding/json"
	"fmt"

	"github.com/Lllllllleong/elasticprinter/internal/elastic"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newSetupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the index and attachment pipeline",
		Long:  "Connect to Elasticsearch and create the print job index and ingest pipeline if they do not exist.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.noColor {
				color.NoColor = true
			}
			cfg, logger, closeLog, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer closeLog()

			if !cfg.Elasticsearch.ScopeIDsByUser {
				logger.Warn("Document ids are not scoped by user. Jobs with equal ids from different users overwrite each other.")
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := elastic.New(ctx, cfg.Elasticsearch, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.EnsureIndex(ctx); err != nil {
				return fmt.Errorf("failed to create/verify index: %w", err)
			}
			if err := client.EnsurePipeline(ctx); err != nil {
				return fmt.Errorf("failed to create/verify pipeline: %w", err)
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Elasticsearch setup completed (index %s, pipeline %s)\n",
				cfg.Elasticsearch.Index, cfg.Elasticsearch.Pipeline)
			return nil
		},
	}
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		query string
		size  int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search indexed print jobs",
		Long:  "Run a query string search over indexed print jobs, newest first, and print the raw response.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := elastic.New(ctx, cfg.Elasticsearch, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			res, err := client.Search(ctx, searchBody(query), size)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "query string (default matches everything)")
	cmd.Flags().IntVarP(&size, "size", "n", 10, "maximum number of hits")
	return cmd
}

// searchBody builds the query DSL for a query string, newest documents first.
func searchBody(query string) map[string]any {
	q := map[string]any{"match_all": map[string]any{}}
	if query != "" {
		q = map[string]any{"query_string": map[string]any{"query": query}}
	}
	return map[string]any{
		"query": q,
		"sort":  []any{map[string]any{"indexed_at": map[string]any{"order": "desc"}}},
	}
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get doc-id",
		Short: "Fetch one indexed print job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := setup(cmd, opts)
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			client, err := elastic.New(ctx, cfg.Elasticsearch, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			doc, err := client.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
