package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var flagIngestCrawl bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Rebuild the index from crawled pages and documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if flagIngestCrawl {
			if _, err := a.Crawl(ctx); err != nil {
				return err
			}
		}

		stats, err := a.Ingest(ctx)
		if err != nil {
			return fmt.Errorf("ingestion failed: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "indexed %d chunks from %d documents in %s\n", stats.Chunks, stats.Documents, stats.Duration.Round(time.Millisecond))
		for _, path := range stats.Skipped {
			fmt.Fprintf(out, "  skipped %s\n", path)
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&flagIngestCrawl, "crawl", false, "crawl the site before building the index")
	rootCmd.AddCommand(ingestCmd)
}
