package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jackdeye/LAHacks/internal/api"
	"github.com/jackdeye/LAHacks/internal/observability"
	"github.com/jackdeye/LAHacks/internal/schedule"
)

const shutdownTimeout = 15 * time.Second

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves readings, county summaries, forecasts and subscriptions. With scheduling enabled it also runs ingest, train and notify on an interval.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("schedule") {
			cfg.Schedule.Enabled = serveSchedule
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openMigratedStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
		srv := api.NewServer(st, newNotifyJob(cfg, st, metrics, false), metrics, api.Options{
			NationalProxy:  cfg.API.NationalProxy,
			RegionProxies:  cfg.API.RegionProxies,
			CORSOrigins:    cfg.Server.CORSOrigins,
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return startServer(gctx, srv, resolvePort(servePort, cfg.Server.Port))
		})
		if cfg.Schedule.Enabled {
			runner := schedule.NewRunner(
				time.Duration(cfg.Schedule.IntervalMins)*time.Minute,
				scheduledJobs(cfg, st, metrics),
				metrics,
			)
			g.Go(func() error {
				runner.Run(gctx)
				return nil
			})
		}
		return g.Wait()
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is cancelled, then shuts
// down gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server listen")
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return <-errCh
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "run ingest, train and notify on schedule.interval_mins")
	rootCmd.AddCommand(serveCmd)
}
