package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups every collector the service exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Requests          *prometheus.CounterVec
	LatencyMS         *prometheus.HistogramVec
	Initiations       *prometheus.CounterVec
	Reconciliations   *prometheus.CounterVec
	LateConfirmations *prometheus.CounterVec
	GatewayLatencyMS  *prometheus.HistogramVec
	Expired           prometheus.Counter
	Purged            prometheus.Counter
	OutboxPublished   prometheus.Counter
	ProjectedEvents   *prometheus.CounterVec
}

func New(service string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "http_requests_total", Help: "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "http_request_duration_ms", Help: "HTTP request latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Initiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "initiations_total", Help: "Checkout initiations by payment method and result.",
		}, []string{"method", "result"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "reconciliations_total", Help: "Reconcile attempts by source and result.",
		}, []string{"source", "result"}),
		LateConfirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "late_confirmations_total", Help: "Payments confirmed by a gateway after the order expired.",
		}, []string{"method"}),
		GatewayLatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "gateway_call_duration_ms", Help: "Gateway adapter call latency in milliseconds.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"method", "op"}),
		Expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "sweeper_expired_total", Help: "Orders moved to EXPIRED by the sweeper.",
		}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "purged_orders_total", Help: "Orders deleted by approved purges.",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "outbox_published_total", Help: "Outbox rows relayed to kafka.",
		}),
		ProjectedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout", Subsystem: service,
			Name: "projected_events_total", Help: "Status events applied to the cache by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.Requests, m.LatencyMS, m.Initiations, m.Reconciliations, m.LateConfirmations,
		m.GatewayLatencyMS, m.Expired, m.Purged, m.OutboxPublished, m.ProjectedEvents)
	return m
}

func (m *Metrics) Initiation(method, result string) {
	if m != nil {
		m.Initiations.WithLabelValues(method, result).Inc()
	}
}

func (m *Metrics) Reconciliation(source, result string) {
	if m != nil {
		m.Reconciliations.WithLabelValues(source, result).Inc()
	}
}

func (m *Metrics) LateConfirmation(method string) {
	if m != nil {
		m.LateConfirmations.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) GatewayCall(method, op string, ms float64) {
	if m != nil {
		m.GatewayLatencyMS.WithLabelValues(method, op).Observe(ms)
	}
}

func (m *Metrics) ExpiredOrders(n int) {
	if m != nil {
		m.Expired.Add(float64(n))
	}
}

func (m *Metrics) PurgedOrders(n int64) {
	if m != nil {
		m.Purged.Add(float64(n))
	}
}

func (m *Metrics) Published(n int) {
	if m != nil {
		m.OutboxPublished.Add(float64(n))
	}
}

func (m *Metrics) Projected(result string) {
	if m != nil {
		m.ProjectedEvents.WithLabelValues(result).Inc()
	}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
