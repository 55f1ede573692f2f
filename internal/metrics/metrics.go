// Package metrics exposes Prometheus collectors for the license service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"license-reseller/internal/events"
	"license-reseller/internal/license"
)

const namespace = "license"

// Registry holds every collector of the service
type Registry struct {
	reg *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RateLimitedTotal    *prometheus.CounterVec

	VerificationsTotal *prometheus.CounterVec
	KeysIssuedTotal    *prometheus.CounterVec
	KeysRevokedTotal   prometheus.Counter
	KeysDeletedTotal   prometheus.Counter
	DevicesTotal       *prometheus.CounterVec
	CreditsTotal       *prometheus.CounterVec
	ResellersTotal     prometheus.Counter
	UpdatesTotal       prometheus.Counter
}

// NewRegistry creates the collectors on a private registry so tests and
// multiple servers in one process do not collide.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"method", "path"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"path", "backend"},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Verification verdicts by game and reason",
			},
			[]string{"game", "reason", "mode"},
		),
		KeysIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "keys_issued_total",
				Help:      "License keys issued by game",
			},
			[]string{"game"},
		),
		KeysRevokedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_revoked_total",
			Help:      "License keys revoked",
		}),
		KeysDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_deleted_total",
			Help:      "License keys hard deleted",
		}),
		DevicesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_bindings_total",
				Help:      "Device bindings added and removed",
			},
			[]string{"action"},
		),
		CreditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credits_total",
				Help:      "Credits granted to and spent by resellers",
			},
			[]string{"direction"},
		),
		ResellersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resellers_registered_total",
			Help:      "Resellers registered through referral tokens",
		}),
		UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_published_total",
			Help:      "Update messages published",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.HTTPRequestsTotal,
		r.HTTPRequestDuration,
		r.RateLimitedTotal,
		r.VerificationsTotal,
		r.KeysIssuedTotal,
		r.KeysRevokedTotal,
		r.KeysDeletedTotal,
		r.DevicesTotal,
		r.CreditsTotal,
		r.ResellersTotal,
		r.UpdatesTotal,
	)

	return r
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// ObserveVerdict counts a verification verdict
func (r *Registry) ObserveVerdict(game license.Game, reason license.Reason, readOnly bool) {
	mode := "register"
	if readOnly {
		mode = "check"
	}
	label := string(game)
	if label == "" {
		label = "unknown"
	}
	r.VerificationsTotal.WithLabelValues(label, string(reason), mode).Inc()
}

// ObserveRateLimited counts a rejected request
func (r *Registry) ObserveRateLimited(path, backend string) {
	r.RateLimitedTotal.WithLabelValues(path, backend).Inc()
}

// HandleEvent turns domain events into counter increments. Subscribe it to
// the event bus with SubscribeAll.
func (r *Registry) HandleEvent(e events.Event) {
	switch e.Type {
	case events.EventKeysIssued:
		game, _ := e.Data["game"].(string)
		count, _ := e.Data["count"].(int)
		r.KeysIssuedTotal.WithLabelValues(game).Add(float64(count))
	case events.EventKeyRevoked:
		r.KeysRevokedTotal.Inc()
	case events.EventKeyDeleted:
		r.KeysDeletedTotal.Inc()
	case events.EventDeviceRegistered:
		r.DevicesTotal.WithLabelValues("registered").Inc()
	case events.EventDeviceRemoved:
		r.DevicesTotal.WithLabelValues("removed").Inc()
	case events.EventCreditsAdjusted:
		delta := toFloat(e.Data["delta"])
		if delta > 0 {
			r.CreditsTotal.WithLabelValues("granted").Add(delta)
		} else if delta < 0 {
			r.CreditsTotal.WithLabelValues("spent").Add(-delta)
		}
	case events.EventResellerCreated:
		r.ResellersTotal.Inc()
	case events.EventUpdatePublished:
		r.UpdatesTotal.Inc()
	}
}

// GinMiddleware records request counts and latency by route
func (r *Registry) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}
		status := strconv.Itoa(c.Writer.Status())

		r.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		r.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
