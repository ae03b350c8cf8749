package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ternarybob/dracma/internal/app"
	"github.com/ternarybob/dracma/internal/common"
)

var healthAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run harvests on the configured cron schedule until interrupted",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&healthAddr, "health-addr", "", "Serve scheduler status on this address (e.g. :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	config.Scheduler.Enabled = true
	if err := config.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	application, err := app.New(ctx, config, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Scheduler.Start(ctx); err != nil {
		return err
	}

	if healthAddr != "" {
		srv := &http.Server{Addr: healthAddr, Handler: healthHandler(application), ReadHeaderTimeout: 5 * time.Second}
		common.SafeGo(logger, "health-server", func() {
			logger.Info().Str("address", healthAddr).Msg("Health server starting")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Health server failed")
			}
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scheduler running (%s). Press Ctrl+C to stop\n", config.Scheduler.Schedule)
	<-ctx.Done()

	logger.Info().Msg("Shutting down scheduler...")
	return nil
}

func healthHandler(application *app.App) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := application.Scheduler.Status()
		w.Header().Set("Content-Type", "application/json")
		if !status.Running {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"running":     status.Running,
			"schedule":    status.Schedule,
			"next_run":    status.NextRun,
			"last_run":    status.LastRun,
			"last_status": status.LastStatus,
			"last_error":  status.LastError,
			"runs":        status.RunCount,
			"version":     common.GetVersion(),
		})
	})
	return mux
}
