package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg *prometheus.Registry

	Plans          *prometheus.CounterVec // direction, outcome
	PlanDuration   prometheus.Histogram
	OptionsPerPlan prometheus.Histogram
	ProviderErrs   *prometheus.CounterVec // source
	TrafficDelay   prometheus.Histogram

	NATSRequests    prometheus.Counter
	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	ProviderTimeout prometheus.Gauge       // seconds
	DBSwitches      *prometheus.CounterVec // reason
}

func NewCollector(providerTimeout time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_plans_total",
			Help: "Planning requests by direction and outcome.",
		}, []string{"direction", "outcome"}),
		PlanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_plan_duration_seconds",
			Help:    "Duration of a planning request including provider calls.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		OptionsPerPlan: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_options_returned",
			Help:    "Transit options returned per successful plan.",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		ProviderErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_provider_errors_total",
			Help: "Failed schedule or traffic provider calls.",
		}, []string{"source"}),
		TrafficDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_traffic_delay_minutes",
			Help:    "Traffic delay estimates applied to departures.",
			Buckets: []float64{0, 5, 10, 15, 20, 30, 45, 60},
		}),
		NATSRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_nats_requests_total",
			Help: "Planning requests received over NATS.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planner_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "planner_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		ProviderTimeout: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planner_provider_timeout_seconds",
			Help: "Per-provider timeout in seconds.",
		}),
		DBSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planner_db_switches_total",
			Help: "GTFS database switches by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		c.Plans, c.PlanDuration, c.OptionsPerPlan, c.ProviderErrs, c.TrafficDelay,
		c.NATSRequests, c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.ProviderTimeout, c.DBSwitches,
	)
	c.ProviderTimeout.Set(providerTimeout.Seconds())
	return c
}

// PlanObserve records one finished planning request.
func (c *Collector) PlanObserve(direction, outcome string, d time.Duration, options int) {
	c.Plans.WithLabelValues(direction, outcome).Inc()
	c.PlanDuration.Observe(d.Seconds())
	if outcome == "ok" || outcome == "empty" {
		c.OptionsPerPlan.Observe(float64(options))
	}
}

func (c *Collector) ProviderErrInc(source string) { c.ProviderErrs.WithLabelValues(source).Inc() }

func (c *Collector) TrafficDelayObserve(d time.Duration) { c.TrafficDelay.Observe(d.Minutes()) }

func (c *Collector) DBSwitchInc(reason string) { c.DBSwitches.WithLabelValues(reason).Inc() }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics listening", zap.String("addr", addr))
	return srv
}
