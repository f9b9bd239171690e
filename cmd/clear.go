package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fabfab/visacoach/knowledge"
)

var flagClearConfirm bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove crawled data, the index and the knowledge graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !flagClearConfirm {
			fmt.Fprint(cmd.OutOrStdout(), "This will permanently delete crawled data and the index. Continue? [y/N]: ")
			answer := strings.ToLower(readLine(bufio.NewScanner(cmd.InOrStdin())))
			if answer != "y" && answer != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "clear aborted")
				return nil
			}
		}

		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if err := a.store.Clear(ctx); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
		a.logger.Printf("cleared %s index", a.cfg.IndexBackend)

		for _, dir := range []string{a.cfg.PagesDir(), a.cfg.FilesDir()} {
			if err := os.RemoveAll(dir); err != nil {
				return fmt.Errorf("remove %s: %w", dir, err)
			}
		}
		a.logger.Printf("removed crawl data under %s", a.cfg.DataDir)

		if a.driver != nil {
			if err := knowledge.Purge(ctx, a.driver); err != nil {
				return fmt.Errorf("clear neo4j: %w", err)
			}
			a.logger.Printf("cleared knowledge graph")
		}
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVar(&flagClearConfirm, "confirm", false, "skip confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}
