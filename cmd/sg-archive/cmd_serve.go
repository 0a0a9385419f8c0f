package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/sg-archive/internal/api"
)

func serveCmd() *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the read-only HTTP/JSON query API over the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			if cmd.Flags().Changed("listen") {
				cfg.API.ListenAddr = listenAddr
			}

			m, err := newMirror(logger)
			if err != nil {
				return fmt.Errorf("serve: opening archive: %w", err)
			}
			for _, entityType := range cfg.HTML.LoadEntityType {
				start := time.Now()
				if loadErr := m.LoadEntityType(entityType); loadErr != nil {
					return fmt.Errorf("serve: preloading %s: %w", entityType, loadErr)
				}
				logger.Info("preloaded entity type", "entity_type", entityType, "duration", time.Since(start))
			}
			if ctx.Err() != nil {
				return nil
			}

			srv := api.NewServer(m, api.Options{
				AuthToken:    cfg.API.AuthToken,
				DataDir:      m.DataDir(),
				ListFields:   cfg.HTML.ListFields,
				HiddenFields: cfg.HTML.Fields,
			}, logger)

			if cfg.API.AuthToken == "" {
				logger.Warn("HTTP API: auth is DISABLED; set SG_ARCHIVE_API_AUTH_TOKEN or api.auth_token for production use")
			}

			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      5 * time.Minute,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API server starting", "addr", cfg.API.ListenAddr, "archive", m.Root())
				if listenErr := httpSrv.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: HTTP server: %w", listenErr)
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case startErr := <-errCh:
				if startErr != nil {
					return startErr
				}
				return nil
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}

			// Drain the errCh in case ListenAndServe returned after Shutdown.
			if startErr := <-errCh; startErr != nil {
				return startErr
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (default: config api.listen_addr)")
	return cmd
}
