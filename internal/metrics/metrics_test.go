package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"boilbot/internal/calendar"
	"boilbot/internal/equipment"
	rtsup "boilbot/internal/runtime/supervisor"
)

type stateSource struct{ st equipment.State }

func (s stateSource) Snapshot() equipment.State { return s.st.Clone() }

func testState() equipment.State {
	long := calendar.NewDate(2000, time.January, 3)
	return equipment.State{Cadence: equipment.DefaultCadence(), Units: []equipment.Unit{
		{Name: "Fry1", Type: equipment.Open, InUse: true, LastService: long, NextBoilout: long},
		{Name: "Fry2", Type: equipment.Pressure, InUse: false},
		{Name: "Fry3", Type: equipment.Open, InUse: true},
	}}
}

func newTestMetrics() *Metrics {
	return New(stateSource{testState()}, calendar.New(time.Sunday, time.UTC))
}

func TestObserverCounters(t *testing.T) {
	m := newTestMetrics()
	m.SaveCompleted(1, nil)
	m.SaveCompleted(3, errors.New("disk full"))
	m.LoadRecovered(errors.New("missing"))
	m.CommandHandled("boilout", "ok")
	m.DigestPosted(nil)

	if got := testutil.ToFloat64(m.saves.WithLabelValues("ok")); got != 1 {
		t.Fatalf("ok saves = %v", got)
	}
	if got := testutil.ToFloat64(m.saves.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed saves = %v", got)
	}
	if got := testutil.ToFloat64(m.saveRetries); got != 2 {
		t.Fatalf("retries = %v", got)
	}
	if got := testutil.ToFloat64(m.loadRecoveries); got != 1 {
		t.Fatalf("recoveries = %v", got)
	}
	if got := testutil.ToFloat64(m.commands.WithLabelValues("boilout", "ok")); got != 1 {
		t.Fatalf("commands = %v", got)
	}
}

func TestUnitCollector(t *testing.T) {
	c := newUnitCollector(stateSource{testState()}, calendar.New(time.Sunday, time.UTC))
	// 3 types x 2 in_use states + due + overdue
	if n := testutil.CollectAndCount(c); n != 8 {
		t.Fatalf("series = %d, want 8", n)
	}
	want := `
# HELP boilbot_boilouts_overdue In-use fryers whose next boil-out is before today.
# TYPE boilbot_boilouts_overdue gauge
boilbot_boilouts_overdue 1
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(want), "boilbot_boilouts_overdue"); err != nil {
		t.Fatal(err)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := newTestMetrics()
	m.WatchSupervisor(rtsup.NewSupervisor(context.Background()))
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	for _, name := range []string{`boilbot_units{in_use="true",type="Open"} 2`, "boilbot_goroutines_active", "go_goroutines"} {
		if !strings.Contains(string(b), name) {
			t.Fatalf("missing %s in\n%s", name, b)
		}
	}
}

func TestMuxRoutes(t *testing.T) {
	m := newTestMetrics()
	tests := []struct {
		name  string
		pprof bool
		path  string
		want  int
	}{
		{name: "healthz", path: "/healthz", want: http.StatusOK},
		{name: "metrics", path: "/metrics", want: http.StatusOK},
		{name: "pprof off", path: "/debug/pprof/", want: http.StatusNotFound},
		{name: "pprof on", pprof: true, path: "/debug/pprof/", want: http.StatusOK},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			m.Mux(ServeOptions{Pprof: tt.pprof}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Fatalf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
		})
	}
}
