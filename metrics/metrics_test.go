package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDisabled(t *testing.T) {
	m := New(false)
	if m == nil {
		t.Fatal("metrics should not be nil (noop)")
	}

	// These should not panic even though they're noop
	m.RecordIdentityFetch("ok")
	m.RecordRenewal("success")
	m.RecordAuthOutcome("authenticated")
	m.RecordSessionEvent("login")
	m.RecordGuardDecision("allow", 0.001)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	tests := []func(){
		func() { m.RecordIdentityFetch("ok") },
		func() { m.RecordRenewal("rejected") },
		func() { m.RecordAuthOutcome("indeterminate") },
		func() { m.RecordSessionEvent("logout") },
		func() { m.RecordGuardDecision("redirect_unauthorized", 0.002) },
	}
	for _, fn := range tests {
		fn()
	}
}

func TestRecordRenewal(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.RecordRenewal("success")
	m.RecordRenewal("success")
	m.RecordRenewal("rejected")

	if got := testutil.ToFloat64(m.renewalsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success renewals = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.renewalsTotal.WithLabelValues("rejected")); got != 1 {
		t.Errorf("rejected renewals = %v, want 1", got)
	}
}

func TestRecordGuardDecision(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)

	m.RecordGuardDecision("allow", 0.01)
	m.RecordGuardDecision("redirect_unauthenticated", 0.02)

	if got := testutil.ToFloat64(m.guardDecisionsTotal.WithLabelValues("allow")); got != 1 {
		t.Errorf("allow decisions = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.guardCheckDuration); n != 1 {
		t.Errorf("histogram series = %d, want 1", n)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances on separate registries must not collide.
	a := NewWithRegistry(prometheus.NewRegistry())
	b := NewWithRegistry(prometheus.NewRegistry())
	a.RecordSessionEvent("login")
	b.RecordSessionEvent("login")

	if got := testutil.ToFloat64(a.sessionEventsTotal.WithLabelValues("login")); got != 1 {
		t.Errorf("a login events = %v, want 1", got)
	}
}
