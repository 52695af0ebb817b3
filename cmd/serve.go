package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viurl/verification-engine/internal/api"
	"github.com/viurl/verification-engine/internal/config"
)

var servePort int

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		eng, err := openEngine(ctx, cfg, "serve")
		if err != nil {
			return err
		}
		defer eng.Close() //nolint:errcheck

		if interval := cfg.Leaderboard.RefreshIntervalSecs; interval > 0 {
			go eng.Leaderboard.RunRefresher(ctx, time.Duration(interval)*time.Second)
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildHandler(eng, cfg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		return runServer(ctx, srv)
	},
}

func buildHandler(eng *engine, c *config.Config) http.Handler {
	return api.NewServer(eng.Store, eng.Ledger, eng.Workflow, eng.Tracker, eng.Leaderboard, api.Options{
		RequestTimeout: time.Duration(c.Server.RequestTimeoutSecs) * time.Second,
		RateLimitRPS:   c.Server.RateLimitRPS,
		RateLimitBurst: c.Server.RateLimitBurst,
		CORSOrigins:    c.Server.CORSOrigins,
	}).Handler()
}

// runServer serves until ctx is done, then drains in-flight requests.
func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "server listen")
		}
		return nil
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
