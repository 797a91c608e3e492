package metrics_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/serroba/collab-notes/internal/bus"
	"github.com/serroba/collab-notes/internal/metrics"
	"github.com/serroba/collab-notes/internal/ot"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountsEvents(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	ctx := context.Background()
	meta := bus.Meta{DocumentID: "doc1"}

	events := []bus.Event{
		bus.UserJoined{Meta: meta, UserID: "alice"},
		bus.ChangeApplied{Meta: meta, Change: ot.Change{Operation: ot.Insert, BaseVersion: 0, Version: 1}},
		bus.ChangeApplied{Meta: meta, Change: ot.Change{Operation: ot.Delete, BaseVersion: 0, Version: 2}},
		bus.UserLeft{Meta: meta, UserID: "alice", Reason: bus.LeaveIdle},
		bus.UserLeft{Meta: meta, UserID: "bob", Reason: bus.LeaveExplicit},
	}

	for _, ev := range events {
		require.NoError(t, m.Notify(ctx, ev))
	}

	expected := `
# HELP collab_changes_applied_total Changes applied, by operation.
# TYPE collab_changes_applied_total counter
collab_changes_applied_total{operation="delete"} 1
collab_changes_applied_total{operation="insert"} 1
# HELP collab_idle_evictions_total Sessions closed for inactivity.
# TYPE collab_idle_evictions_total counter
collab_idle_evictions_total 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"collab_changes_applied_total", "collab_idle_evictions_total"))

	// Every kind is exported from the start.
	n, err := testutil.GatherAndCount(m.Registry(), "collab_events_total")
	require.NoError(t, err)
	require.Equal(t, len(bus.Kinds), n)
}

func TestMetrics_ObserverFailures(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	b := bus.New(bus.WithFailureHook(m.ObserverFailed))
	b.SubscribeAll(bus.ObserverFunc(func(context.Context, bus.Event) error {
		return errors.New("boom")
	}))

	b.Publish(context.Background(), bus.UserJoined{Meta: bus.Meta{DocumentID: "doc1"}, UserID: "alice"})

	expected := `
# HELP collab_observer_failures_total Observer errors and panics, by event kind.
# TYPE collab_observer_failures_total counter
collab_observer_failures_total{kind="userJoined"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"collab_observer_failures_total"))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.Gauge("active_sessions", "Open sessions.", func() float64 { return 3 })
	m.Counter("kafka_dropped_total", "Events dropped by the exporter.", func() float64 { return 7 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	require.Contains(t, body, "collab_active_sessions 3")
	require.Contains(t, body, "collab_kafka_dropped_total 7")
	require.Contains(t, body, "go_goroutines")
}
