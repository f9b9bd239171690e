package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabfab/visacoach/crawler"
	"github.com/fabfab/visacoach/knowledge"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl the ISSS site and save pages and documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		stats, err := a.Crawl(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "crawled %d pages, downloaded %d files, %d failures\n", len(stats.Pages), len(stats.Files), stats.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(crawlCmd)
}

// setup loads configuration and opens shared connections.
func setup(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, newLogger())
}

// Crawl runs one crawl from the configured seed and records the link graph
// when Neo4j is available.
func (a *app) Crawl(ctx context.Context) (crawler.Stats, error) {
	store, err := crawler.NewStore(a.cfg.PagesDir(), a.cfg.FilesDir())
	if err != nil {
		return crawler.Stats{}, err
	}

	c := crawler.New(store, crawler.Options{
		Scope:     crawler.Scope{Host: a.cfg.Crawl.AllowedHost, PathPrefix: a.cfg.Crawl.ScopePrefix},
		Delay:     a.cfg.Crawl.Delay,
		Timeout:   a.cfg.Crawl.Timeout,
		MaxPages:  a.cfg.Crawl.MaxPages,
		MaxDepth:  a.cfg.Crawl.MaxDepth,
		Workers:   a.cfg.Crawl.Workers,
		UserAgent: a.cfg.Crawl.UserAgent,
		Verbose:   flagVerbose,
	}, nil, a.logger)

	a.logger.Printf("crawling %s (host %s, prefix %q)", a.cfg.Crawl.SeedURL, a.cfg.Crawl.AllowedHost, a.cfg.Crawl.ScopePrefix)
	stats, err := c.Crawl(ctx, a.cfg.Crawl.SeedURL)
	if err != nil {
		return stats, fmt.Errorf("crawl: %w", err)
	}

	if a.driver != nil {
		if err := knowledge.SyncSite(ctx, a.driver, knowledge.SiteFromCrawl(stats)); err != nil {
			a.logger.Printf("sync knowledge graph: %v", err)
		}
	}
	return stats, nil
}
