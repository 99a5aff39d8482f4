package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pathledger/internal/domain"
)

const namespace = "pathledger"

// Collectors holds the service's Prometheus series on a private registry so
// tests can build as many instances as they need.
type Collectors struct {
	registry *prometheus.Registry

	ingested      *prometheus.CounterVec
	events        *prometheus.CounterVec
	verifications *prometheus.CounterVec
	publishes     *prometheus.CounterVec
	publishTime   *prometheus.HistogramVec
}

func New() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_messages_total",
			Help:      "Gateway messages handled, by message type and outcome.",
		}, []string{"message_type", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_recorded_total",
			Help:      "Events persisted, by kind and hash status.",
		}, []string{"kind", "hash_status"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Verification verdicts returned.",
		}, []string{"verified"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_publish_total",
			Help:      "Ledger publish attempts, by ledger, status and error code.",
		}, []string{"ledger", "status", "error_code"}),
		publishTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_publish_seconds",
			Help:      "Ledger publish latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"ledger", "status"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.ingested,
		c.events,
		c.verifications,
		c.publishes,
		c.publishTime,
	)
	return c
}

func (c *Collectors) ObserveIngest(messageType domain.MessageType, outcome string) {
	if messageType == "" {
		messageType = "unknown"
	}
	c.ingested.WithLabelValues(string(messageType), outcome).Inc()
}

func (c *Collectors) ObserveEvent(kind domain.EventKind, status domain.HashStatus) {
	c.events.WithLabelValues(string(kind), string(status)).Inc()
}

func (c *Collectors) ObserveVerification(verified bool) {
	c.verifications.WithLabelValues(strconv.FormatBool(verified)).Inc()
}

// ObservePublish records one ledger publish attempt.
func (c *Collectors) ObservePublish(ledger, status, errorCode string, elapsed time.Duration) {
	c.publishes.WithLabelValues(ledger, status, errorCode).Inc()
	c.publishTime.WithLabelValues(ledger, status).Observe(elapsed.Seconds())
}

func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
