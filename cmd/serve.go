/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/kosei/internal/api"
	"github.com/valpere/kosei/internal/observe"
)

var (
	serveAddr  string
	serveToken string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the checker over HTTP",
	Long: `Start an HTTP server exposing:

  POST   /v1/check            check a text ({"text": "...", "lint": true})
  GET    /v1/sessions         list stored sessions
  GET    /v1/sessions/{id}    show one session with every pass
  DELETE /v1/sessions/{id}    delete a session
  GET    /v1/stats            session statistics
  GET    /v1/allowlist        list allowlisted terms
  POST   /v1/allowlist        add a term ({"term": "...", "note": "..."})
  DELETE /v1/allowlist/{term} remove a term
  GET    /metrics             Prometheus metrics
  GET    /healthz             liveness`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName:    "kosei",
			ServiceVersion: version,
		})
		if err != nil {
			return fmt.Errorf("failed to initialise telemetry: %w", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				slog.Warn("telemetry shutdown failed", "error", err)
			}
		}()

		db, err := openStore()
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
		}

		p, err := buildPipeline(ctx, db, true)
		if err != nil {
			return err
		}

		if serveToken == "" {
			serveToken = os.Getenv("KOSEI_API_TOKEN")
		}
		srv := &http.Server{
			Addr: serveAddr,
			Handler: api.NewHandler(api.Deps{
				Checker:   p.checker,
				Store:     db,
				Allowlist: p.allowlist,
				Metrics:   observe.DefaultMetrics(),
				Token:     serveToken,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("kosei listening", "addr", serveAddr, "policy_table", p.table.Version())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			slog.Info("shutting down")
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8080", "Listen address")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "Bearer token for /v1 routes (default: $KOSEI_API_TOKEN; empty disables auth)")
}
