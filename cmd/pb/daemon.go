package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/daviddao/phishbeads/internal/db"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	daemonMetricsAddr string
	daemonTick        time.Duration
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Sync indicators and send reports on a schedule",
	Long: `Run in the foreground, checking every minute whether a sync
(sync.interval minutes), a full indicator refresh (sync.full_interval
minutes) or a report run (reports.interval minutes) is due. An interval of
0 disables that task. Runs that are still in progress are
skipped, never queued. With --metrics-addr the Prometheus metrics are
served at /metrics.`,
	Example: `  pb daemon
  pb daemon --metrics-addr :9310`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logger.Named("daemon")

		err := guarded(ctx, "report", func(ctx context.Context) error {
			_, err := svc.queue.RecoverInTransit(ctx)
			return err
		})
		if err != nil {
			// Another process is dispatching; its in-transit rows are live.
			log.Warn("skip in-transit recovery", zap.Error(err))
		}

		addr := daemonMetricsAddr
		if addr == "" {
			addr = cfg.Metrics.Addr
		}

		g, ctx := errgroup.WithContext(ctx)
		if addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			g.Go(func() error {
				log.Info("serving metrics", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdown)
			})
		}

		g.Go(func() error {
			t := time.NewTicker(daemonTick)
			defer t.Stop()
			for {
				runScheduled(ctx, log)
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
		})

		log.Info("daemon started",
			zap.String("node", cfg.Node.URL),
			zap.Int("sync_interval", cfg.Sync.Interval),
			zap.Int("report_interval", cfg.Reports.Interval))
		return g.Wait()
	},
}

// runScheduled starts every task whose interval has elapsed since its last
// attempt.
func runScheduled(ctx context.Context, log *zap.Logger) {
	now := time.Now().Unix()

	if run, full := syncDue(ctx, now, log); run {
		err := guarded(ctx, "sync", func(ctx context.Context) error {
			_, err := svc.syncer.Sync(ctx, full)
			return err
		})
		if err != nil {
			log.Warn("scheduled sync failed", zap.Error(err))
		}
	}

	if due(ctx, db.MetaReportsLastTry, cfg.Reports.Interval, now, log) {
		var attempted int
		err := guarded(ctx, "report", func(ctx context.Context) error {
			res, err := svc.queue.Dispatch(ctx)
			if res != nil {
				attempted = res.Attempted
			}
			return err
		})
		if err != nil {
			log.Warn("scheduled report failed", zap.Error(err))
		} else if attempted > 0 {
			log.Info("pending incident reports sent", zap.Int("count", attempted))
		}
	}
}

// syncDue reports whether a sync is due and whether it must be a full
// refresh.
func syncDue(ctx context.Context, now int64, log *zap.Logger) (run, full bool) {
	if due(ctx, db.MetaSyncFullTry, cfg.Sync.FullInterval, now, log) {
		return true, true
	}
	return due(ctx, db.MetaSyncLastTry, cfg.Sync.Interval, now, log), false
}

func due(ctx context.Context, key string, intervalMin int, now int64, log *zap.Logger) bool {
	if intervalMin <= 0 {
		return false
	}
	last, err := store.GetMetaInt(ctx, key)
	if err != nil {
		log.Warn("read schedule state", zap.String("key", key), zap.Error(err))
		return false
	}
	return now > last+int64(intervalMin)*60
}

func init() {
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default: metrics.addr)")
	daemonCmd.Flags().DurationVar(&daemonTick, "tick", time.Minute, "How often to check for due tasks")
	rootCmd.AddCommand(daemonCmd)
}
