package metrics

import (
	"fmt"
	"testing"
	"time"

	xerrors "netbill-service/internal/pkg/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRouterCallLabelsByKind(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRouterCall("/ppp/secret/print", nil, 10*time.Millisecond)
	m.ObserveRouterCall("/ppp/secret/print", fmt.Errorf("dial: %w", xerrors.ErrRouterUnavailable), time.Second)
	m.ObserveRouterCall("/ppp/secret/print", fmt.Errorf("dial: %w", xerrors.ErrRouterUnavailable), time.Second)

	if got := testutil.ToFloat64(m.routerCalls.WithLabelValues("/ppp/secret/print", "none")); got != 1 {
		t.Errorf("ok calls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.routerCalls.WithLabelValues("/ppp/secret/print", "router_unavailable")); got != 2 {
		t.Errorf("unavailable calls = %v, want 2", got)
	}
}

func TestObservePass(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObservePass("sync-secrets", time.Second, nil)
	m.ObservePass("sync-secrets", time.Second, fmt.Errorf("boom"))
	m.ObserveAction("sync-secrets", "suspend")
	m.ObserveFailure("sync-secrets", xerrors.ErrInconsistentSubscriber)

	if got := testutil.ToFloat64(m.passes.WithLabelValues("sync-secrets", "error")); got != 1 {
		t.Errorf("error passes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.actions.WithLabelValues("sync-secrets", "suspend")); got != 1 {
		t.Errorf("suspend actions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.failures.WithLabelValues("sync-secrets", "inconsistent_subscriber")); got != 1 {
		t.Errorf("inconsistent failures = %v, want 1", got)
	}
}
