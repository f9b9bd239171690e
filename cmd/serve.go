package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/visacoach/api"
)

var flagServeAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		srv, err := api.New(a, a.logger)
		if err != nil {
			return err
		}
		defer srv.Close()

		addr := flagServeAddr
		if addr == "" {
			addr = a.cfg.HTTPAddr
		}
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Printf("listening on %s", addr)
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.logger.Printf("shutting down")
			return httpServer.Shutdown(shutdownCtx)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}
