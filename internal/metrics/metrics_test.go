package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPOSMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPOSMetrics(reg)

	m.GatewayOutcome("mpesa", "timeout")
	m.GatewayOutcome("mpesa", "timeout")
	m.ObserveGatewayRequest("mpesa", "stkquery", 120*time.Millisecond)
	m.SaleCommitted("split")
	m.SaleCommitFailed()
	m.ShiftEvent("payout")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := counterValue(mfs, "pos_gateway_outcomes_total", map[string]string{"gateway": "mpesa", "outcome": "timeout"}); err != nil {
		t.Fatalf("outcomes: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 timeouts, got %f", got)
	}
	if got, err := counterValue(mfs, "pos_sales_committed_total", map[string]string{"method": "split"}); err != nil || got != 1 {
		t.Fatalf("expected one split sale, got %f (%v)", got, err)
	}
	if got, err := counterValue(mfs, "pos_sale_commit_failures_total", nil); err != nil || got != 1 {
		t.Fatalf("expected one commit failure, got %f (%v)", got, err)
	}
	if got, err := counterValue(mfs, "pos_shift_events_total", map[string]string{"event": "payout"}); err != nil || got != 1 {
		t.Fatalf("expected one payout event, got %f (%v)", got, err)
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	m := NewPOSMetrics(nil)
	m.GatewayOutcome("pesapal", "success")
	m.SaleCommitFailed()

	var nilMetrics *POSMetrics
	nilMetrics.ShiftEvent("open")
}

func counterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if matchesLabels(metric.GetLabel(), labels) {
				return metric.GetCounter().GetValue(), nil
			}
		}
		return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
	}
	return 0, fmt.Errorf("metric %q not found", name)
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}
