package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCounter(Registerer(reg), Name("events_total"), Labels("service", "type"))
	c.Values("user.rpc", "put").Inc()
	c.Values("user.rpc", "put").Add(2)
	c.Values("user.rpc", "delete").Inc()

	again := NewCounter(Registerer(reg), Name("events_total"), Labels("service", "type"))
	again.Values("user.rpc", "put").Inc()

	vec := again.(*counter).CounterVec
	if got := testutil.ToFloat64(vec.WithLabelValues("user.rpc", "put")); got != 4 {
		t.Fatalf("put = %v, want 4", got)
	}
}

func TestGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := NewGauge(Registerer(reg), Name("members"))
	g.Values("user.rpc").Set(3)
	g.Values("user.rpc").Dec()
	vec := g.(*gauge).GaugeVec
	if got := testutil.ToFloat64(vec.WithLabelValues("user.rpc")); got != 2 {
		t.Fatalf("members = %v, want 2", got)
	}
}
