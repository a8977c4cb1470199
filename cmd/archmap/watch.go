package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dd0wney/cluso-archmap/pkg/health"
	"github.com/dd0wney/cluso-archmap/pkg/logging"
	"github.com/dd0wney/cluso-archmap/pkg/schedule"
)

const shutdownTimeout = 30 * time.Second

func newWatchCmd(a *app) *cobra.Command {
	var (
		every string
		now   bool
	)
	cmd := &cobra.Command{
		Use:   "watch [target...]",
		Short: "Rescan targets on a schedule",
		Long: `Watch keeps the architecture map current. It runs the jobs listed under
schedule.jobs in the config file plus one job per target argument on the
--every schedule. Metrics are served on metrics.listen_addr when enabled and
scan events are published when notify is enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			jobs := append([]schedule.Job(nil), a.cfg.Schedule.Jobs...)
			for _, target := range args {
				jobs = append(jobs, schedule.Job{Name: target, Schedule: every, Target: target})
			}
			if err := (schedule.Config{Jobs: jobs}).Validate(); err != nil {
				return err
			}
			if len(jobs) == 0 {
				return errors.New("nothing to watch: pass targets or configure schedule.jobs")
			}

			e, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			scans := health.NewScanTracker()
			run := func(ctx context.Context, target string) error {
				_, err := e.Scan(ctx, target)
				scans.Record(target, time.Now(), err)
				return err
			}
			s := schedule.New(run, a.logger)
			for _, j := range jobs {
				if err := s.Add(j); err != nil {
					return fmt.Errorf("job %q: %w", j.Name, err)
				}
			}

			checker := health.NewChecker()
			checker.Register("snapshot_store", health.StoreCheck(e.Store))
			checker.Register("scans", scans.Check)
			srv := a.serveMetrics(checker)

			if now {
				for _, j := range jobs {
					if err := run(ctx, j.Target); err != nil {
						a.logger.Error("initial scan failed", logging.String("job", j.Name), logging.Error(err))
					}
				}
			}

			s.Start()
			<-ctx.Done()
			a.logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			err = s.Stop(shutdownCtx)
			if srv != nil {
				err = errors.Join(err, srv.Shutdown(shutdownCtx))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&every, "every", "@every 1h", "cron schedule for targets given as arguments")
	cmd.Flags().BoolVar(&now, "now", false, "scan every target once before waiting for the schedule")
	return cmd
}

// serveMetrics starts the Prometheus and health endpoints when metrics are
// enabled.
func (a *app) serveMetrics(checker *health.Checker) *http.Server {
	if a.metrics == nil || a.cfg.Metrics.ListenAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.Handle("/health", checker.Handler())

	srv := &http.Server{
		Addr:         a.cfg.Metrics.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server listening", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", logging.Error(err))
		}
	}()
	done := make(chan struct{})
	srv.RegisterOnShutdown(func() { close(done) })
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			a.metrics.UpdateSystemMetrics()
			select {
			case <-ticker.C:
			case <-done:
				return
			}
		}
	}()
	return srv
}
