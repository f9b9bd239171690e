package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fabfab/visacoach/config"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "visacoach",
	Short:         "Answer F-1 work authorization questions from the ISSS website",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "YAML config file (default $VISACOACH_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log every crawled page and downloaded file")
}

func loadConfig() (config.Config, error) {
	path := flagConfig
	if path == "" {
		path = os.Getenv("VISACOACH_CONFIG")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger() *log.Logger {
	flags := log.LstdFlags
	if flagVerbose {
		flags |= log.Lmicroseconds
	}
	return log.New(os.Stderr, "", flags)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
