package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// POSMetrics records gateway, sale and shift outcomes for the terminal backend.
type POSMetrics struct {
	gatewayOutcomes *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	salesCommitted  *prometheus.CounterVec
	commitFailures  prometheus.Counter
	shiftEvents     *prometheus.CounterVec
}

// NewPOSMetrics registers the collectors on reg. A nil registerer yields a
// recorder whose methods are no-ops.
func NewPOSMetrics(reg prometheus.Registerer) *POSMetrics {
	if reg == nil {
		return &POSMetrics{}
	}
	gatewayOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_gateway_outcomes_total",
		Help: "Terminal outcomes of payment gateway flows.",
	}, []string{"gateway", "outcome"})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_gateway_request_duration_seconds",
		Help:    "Duration of back-office gateway requests in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"gateway", "operation"})
	salesCommitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sales_committed_total",
		Help: "Sales committed to the back-office, by settlement method.",
	}, []string{"method"})
	commitFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pos_sale_commit_failures_total",
		Help: "Sale commits rejected by the back-office or failed in transit.",
	})
	shiftEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_shift_events_total",
		Help: "Shift lifecycle events (open, payout, close).",
	}, []string{"event"})
	reg.MustRegister(gatewayOutcomes, gatewayDuration, salesCommitted, commitFailures, shiftEvents)
	return &POSMetrics{
		gatewayOutcomes: gatewayOutcomes,
		gatewayDuration: gatewayDuration,
		salesCommitted:  salesCommitted,
		commitFailures:  commitFailures,
		shiftEvents:     shiftEvents,
	}
}

func (m *POSMetrics) GatewayOutcome(gateway, outcome string) {
	if m == nil || m.gatewayOutcomes == nil {
		return
	}
	m.gatewayOutcomes.WithLabelValues(normalizeLabel(gateway), normalizeLabel(outcome)).Inc()
}

func (m *POSMetrics) ObserveGatewayRequest(gateway, operation string, duration time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(gateway), normalizeLabel(operation)).Observe(duration.Seconds())
}

func (m *POSMetrics) SaleCommitted(method string) {
	if m == nil || m.salesCommitted == nil {
		return
	}
	m.salesCommitted.WithLabelValues(normalizeLabel(method)).Inc()
}

func (m *POSMetrics) SaleCommitFailed() {
	if m == nil || m.commitFailures == nil {
		return
	}
	m.commitFailures.Inc()
}

func (m *POSMetrics) ShiftEvent(event string) {
	if m == nil || m.shiftEvents == nil {
		return
	}
	m.shiftEvents.WithLabelValues(normalizeLabel(event)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
