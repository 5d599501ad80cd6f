package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/instructgen/internal/analysis"
	"github.com/lehigh-university-libraries/instructgen/internal/config"
	"github.com/lehigh-university-libraries/instructgen/internal/gateway"
	"github.com/lehigh-university-libraries/instructgen/internal/handlers"
	"github.com/lehigh-university-libraries/instructgen/internal/media"
	"github.com/lehigh-university-libraries/instructgen/internal/storage"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session API server",
		Long: `Starts the instructgen HTTP API on the specified port.

Clients create a session, upload an original image and its editions, then
start an analysis and poll the session until it is COMPLETE or ERROR.`,
		Example: `  # Start server on default port 8888
  instructgen serve

  # Start server on custom port with OpenAI
  INSTRUCTGEN_PROVIDER=openai instructgen serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}

			gw, err := gateway.NewFromConfig(cfg)
			if err != nil {
				return err
			}
			orchestrator := analysis.New(gw)

			// analyses started by requests outlive the request but not the server
			runCtx, cancelRuns := context.WithCancel(context.Background())
			defer cancelRuns()

			handler := handlers.New(runCtx, storage.New(cfg.SessionTTL), orchestrator, media.NewFetcher(cfg.MaxUploadBytes), cfg.MaxUploadBytes)

			// Set up routes
			r := mux.NewRouter()
			handler.RegisterRoutes(r)
			r.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
				if _, err := w.Write([]byte("OK")); err != nil {
					slog.Error("Unable to write healthcheck", "err", err)
				}
			}).Methods(http.MethodGet)

			addr := ":" + cfg.Port
			server := &http.Server{
				Addr:              addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Instructgen API available", "addr", addr, "url", "http://localhost"+addr, "provider", gw.Provider(), "model", gw.Model())
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				cancelRuns()
				orchestrator.Wait()
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default $PORT or 8888)")

	return cmd
}
