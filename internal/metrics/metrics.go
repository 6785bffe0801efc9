// Package metrics exposes supplemental Prometheus counters/gauges over an
// internal /metrics endpoint. This is additive observability; the
// DB-backed progress history remains the durable health record.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rennietech/mls-sync-core/internal/ratelimit"
)

// Registry bundles the process's counters and gauges.
type Registry struct {
	RecordsProcessed   *prometheus.CounterVec
	RateLimitEvents    *prometheus.CounterVec
	MediaDownloads     *prometheus.CounterVec
	GovernorHourlyUsed *prometheus.GaugeVec
	GovernorCooldown   *prometheus.GaugeVec
	MediaBacklog       prometheus.Gauge
}

func NewRegistry() *Registry {
	return &Registry{
		RecordsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mls_sync",
			Name:      "records_processed_total",
			Help:      "Records processed per resource driver.",
		}, []string{"resource"}),
		RateLimitEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mls_sync",
			Name:      "rate_limit_events_total",
			Help:      "Upstream rate-limit rejections observed, by source.",
		}, []string{"source"}),
		MediaDownloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mls_sync",
			Name:      "media_downloads_total",
			Help:      "Media downloads attempted, by outcome.",
		}, []string{"outcome"}),
		GovernorHourlyUsed: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mls_sync",
			Name:      "governor_hourly_requests",
			Help:      "Requests issued in the current rolling hour window, by governor.",
		}, []string{"governor"}),
		GovernorCooldown: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mls_sync",
			Name:      "governor_cooldown_active",
			Help:      "1 if the governor is in an active cooldown, else 0.",
		}, []string{"governor"}),
		MediaBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "mls_sync",
			Name:      "media_backlog",
			Help:      "Photo assets still missing a local URL, as of the last sweep.",
		}),
	}
}

// Add increments the records-processed counter for one resource driver;
// it satisfies internal/sync.RecordsCounter.
func (r *Registry) Add(resource string, n int) {
	r.RecordsProcessed.WithLabelValues(resource).Add(float64(n))
}

// AddDownload increments the media-download outcome counter; it
// satisfies internal/media.Metrics.
func (r *Registry) AddDownload(outcome string) {
	r.MediaDownloads.WithLabelValues(outcome).Inc()
}

// AddRateLimitEvent increments the rate-limit-event counter; it
// satisfies internal/media.Metrics.
func (r *Registry) AddRateLimitEvent(source string) {
	r.RateLimitEvents.WithLabelValues(source).Inc()
}

// SetMediaBacklog records the current count of un-hydrated photo assets;
// it satisfies internal/media.Metrics.
func (r *Registry) SetMediaBacklog(n int) {
	r.MediaBacklog.Set(float64(n))
}

// ObserveGovernor mirrors a rate governor's Snapshot() into the gauges.
func (r *Registry) ObserveGovernor(name string, snap ratelimit.Snapshot) {
	r.GovernorHourlyUsed.WithLabelValues(name).Set(float64(snap.HourlyCount))
	cooldown := 0.0
	if snap.CooldownActive {
		cooldown = 1.0
	}
	r.GovernorCooldown.WithLabelValues(name).Set(cooldown)
}

// Serve starts the /metrics HTTP endpoint and blocks until ctx is
// cancelled or the listener fails.
func Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	}
}
