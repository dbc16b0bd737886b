package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transit-planner/internal/config"
	"transit-planner/internal/logging"
	"transit-planner/internal/metrics"
	"transit-planner/internal/publisher"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "planner",
		Short:        "Match bus and coach legs to flight times at the airport",
		SilenceUsage: true,
	}
	cmd.AddCommand(serveCmd(), planCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Answer planning requests over NATS and expose metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Load configuration from .env and environment
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			// Root context with cancellation on SIGINT/SIGTERM
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			// Metrics setup
			var mcol *metrics.Collector
			if cfg.MetricsAddr != "" {
				mcol = metrics.NewCollector(cfg.ProviderTimeout)
				srv := mcol.Serve(cfg.MetricsAddr, log)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			p, err := buildPlanner(ctx, cfg, log, mcol)
			if err != nil {
				return err
			}
			defer p.cleanup()

			// Re-resolve and switch the feed database in the background
			var watcherDone chan struct{}
			if p.feed != nil {
				watcherDone = make(chan struct{})
				go func() {
					defer close(watcherDone)
					p.feed.Run(ctx)
				}()
			}

			pm := wrapPublisherMetrics(mcol)
			nc, err := publisher.Connect(cfg.NATSURL, pm, log)
			if err != nil {
				return err
			}
			defer func() {
				_ = nc.Drain()
				nc.Close()
			}()

			resp := publisher.NewResponder(p.matcher, nc, publisher.Options{
				Subject:       cfg.NATSSubject,
				EventsSubject: cfg.NATSEventsSubject,
				Timeout:       2 * cfg.ProviderTimeout,
				LogSubjects:   cfg.LogNATSSubjects,
			}, pm, log)
			if err := resp.Start(ctx, nc); err != nil {
				return err
			}
			defer resp.Close()

			// Block until context cancelled
			<-ctx.Done()
			if watcherDone != nil {
				<-watcherDone
			}
			log.Info("shutdown complete")
			return nil
		},
	}
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSRequestInc()                { p.c.NATSRequests.Inc() }
func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}

func logStartup(log *zap.Logger, cfg *config.Config, p *planner) {
	log.Info("planner ready",
		zap.Strings("sources", p.sources),
		zap.String("timetable_airport", p.timetable.Airport()),
		zap.Strings("timetable_origins", p.timetable.Origins()),
		zap.String("fallback_hub", cfg.FallbackHub),
		zap.String("tz", cfg.Location.String()),
		zap.Duration("provider_timeout", cfg.ProviderTimeout),
		zap.Bool("traffic_cache", cfg.RedisAddr != ""),
		zap.Duration("feed_watch_interval", cfg.FeedWatchInterval))
}
