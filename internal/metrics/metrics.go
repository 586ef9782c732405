package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Collector struct {
	reg *prometheus.Registry

	Updates       *prometheus.CounterVec // mode label: online|offline
	QueueLength   prometheus.Gauge
	Flushes       *prometheus.CounterVec // outcome label: succeeded|failed
	FlushDuration prometheus.Histogram
	Online        prometheus.Gauge
	Syncing       prometheus.Gauge
	PersistErrors *prometheus.CounterVec // key label

	Predictions *prometheus.CounterVec // source label: cache|generator|offline|fallback

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	SyncWindow prometheus.Gauge // seconds
}

func NewCollector(syncWindow time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graminbus_updates_total",
			Help: "Bus updates applied, by connectivity at the time of the update.",
		}, []string{"mode"}),
		QueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graminbus_queue_length",
			Help: "Number of pending updates awaiting delivery.",
		}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graminbus_flushes_total",
			Help: "Queue flush attempts by outcome.",
		}, []string{"outcome"}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "graminbus_flush_duration_seconds",
			Help:    "Duration of queue delivery attempts.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		Online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graminbus_online",
			Help: "1 if the device is online, 0 otherwise.",
		}),
		Syncing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graminbus_syncing",
			Help: "1 while a sync is in progress.",
		}),
		PersistErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graminbus_persist_errors_total",
			Help: "Failed durable store writes by key.",
		}, []string{"key"}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graminbus_prediction_requests_total",
			Help: "ETA predictions served, by source.",
		}, []string{"source"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graminbus_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graminbus_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graminbus_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "graminbus_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SyncWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graminbus_sync_window_seconds",
			Help: "Observability window shown for online writes.",
		}),
	}

	reg.MustRegister(
		c.Updates, c.QueueLength, c.Flushes, c.FlushDuration,
		c.Online, c.Syncing, c.PersistErrors, c.Predictions,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.SyncWindow,
	)

	c.SyncWindow.Set(syncWindow.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics listening", zap.String("addr", addr))
	return srv
}

func boolGauge(g prometheus.Gauge, b bool) {
	if b {
		g.Set(1)
	} else {
		g.Set(0)
	}
}

// The helpers below accept a nil collector so components can run without metrics.

func (c *Collector) ObserveUpdate(online bool) {
	if c == nil {
		return
	}
	mode := "offline"
	if online {
		mode = "online"
	}
	c.Updates.WithLabelValues(mode).Inc()
}

func (c *Collector) SetQueueLength(n int) {
	if c == nil {
		return
	}
	c.QueueLength.Set(float64(n))
}

func (c *Collector) ObserveFlush(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Flushes.WithLabelValues(outcome).Inc()
	c.FlushDuration.Observe(d.Seconds())
}

func (c *Collector) SetOnline(b bool) {
	if c == nil {
		return
	}
	boolGauge(c.Online, b)
}

func (c *Collector) SetSyncing(b bool) {
	if c == nil {
		return
	}
	boolGauge(c.Syncing, b)
}

func (c *Collector) PersistFailed(key string) {
	if c == nil {
		return
	}
	c.PersistErrors.WithLabelValues(key).Inc()
}

func (c *Collector) ObservePrediction(source string) {
	if c == nil {
		return
	}
	c.Predictions.WithLabelValues(source).Inc()
}
