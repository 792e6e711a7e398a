// Package metrics exposes fryer and persistence metrics for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	hpprof "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"boilbot/internal/calendar"
	"boilbot/internal/equipment"
	rtsup "boilbot/internal/runtime/supervisor"
	"boilbot/internal/schedule"
	logx "boilbot/pkg/logx"
)

// Source is the subset of the registry the collector reads on each scrape.
type Source interface {
	Snapshot() equipment.State
}

// Metrics owns a private registry so tests and multiple instances never collide.
type Metrics struct {
	reg *prometheus.Registry

	saves          *prometheus.CounterVec
	saveRetries    prometheus.Counter
	loadRecoveries prometheus.Counter
	commands       *prometheus.CounterVec
	digests        *prometheus.CounterVec
}

func New(src Source, cal calendar.Calendar) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boilbot_state_saves_total",
			Help: "State saves by final result.",
		}, []string{"result"}),
		saveRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boilbot_state_save_retries_total",
			Help: "Write attempts beyond the first across all saves.",
		}),
		loadRecoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boilbot_state_load_recoveries_total",
			Help: "Loads that found an absent or malformed blob and wrote the default state.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boilbot_commands_total",
			Help: "Chat commands by command and outcome.",
		}, []string{"command", "outcome"}),
		digests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boilbot_digests_total",
			Help: "Weekly digest posts by result.",
		}, []string{"result"}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.saves, m.saveRetries, m.loadRecoveries, m.commands, m.digests,
		newUnitCollector(src, cal),
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// LoadRecovered implements registry.Observer.
func (m *Metrics) LoadRecovered(error) { m.loadRecoveries.Inc() }

// SaveCompleted implements registry.Observer.
func (m *Metrics) SaveCompleted(attempts int, err error) {
	if attempts > 1 {
		m.saveRetries.Add(float64(attempts - 1))
	}
	m.saves.WithLabelValues(result(err)).Inc()
}

// CommandHandled counts one chat command. outcome is "ok", "rejected" or "error".
func (m *Metrics) CommandHandled(command, outcome string) {
	m.commands.WithLabelValues(command, outcome).Inc()
}

func (m *Metrics) DigestPosted(err error) { m.digests.WithLabelValues(result(err)).Inc() }

// WatchSupervisor publishes the supervisor's goroutine counters.
func (m *Metrics) WatchSupervisor(s *rtsup.Supervisor) {
	m.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "boilbot_goroutines_active",
			Help: "Goroutines currently running under the supervisor.",
		}, func() float64 { return float64(s.Counters().Active) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "boilbot_goroutine_restarts_total",
			Help: "Supervised loop restarts after an error or panic.",
		}, func() float64 { return float64(s.Counters().Restarts) }),
	)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// ServeOptions configures the HTTP endpoint.
type ServeOptions struct {
	Addr string
	// Pprof mounts net/http/pprof under /debug/pprof/.
	Pprof bool
}

// Mux returns the handler tree Serve uses: /metrics, /healthz and, when enabled, pprof.
func (m *Metrics) Mux(opts ServeOptions) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if opts.Pprof {
		mux.HandleFunc("/debug/pprof/", hpprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", hpprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", hpprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", hpprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", hpprof.Trace)
	}
	return mux
}

// Serve runs the endpoint until ctx is done.
func (m *Metrics) Serve(ctx context.Context, opts ServeOptions, log logx.Logger) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           m.Mux(opts),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("metrics server listening", logx.String("addr", opts.Addr), logx.Bool("pprof", opts.Pprof))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	}
}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// unitCollector reads the registry on each scrape.
type unitCollector struct {
	src Source
	cal calendar.Calendar

	unitsDesc   *prometheus.Desc
	dueDesc     *prometheus.Desc
	overdueDesc *prometheus.Desc
}

func newUnitCollector(src Source, cal calendar.Calendar) *unitCollector {
	return &unitCollector{
		src: src,
		cal: cal,
		unitsDesc: prometheus.NewDesc(
			"boilbot_units",
			"Registered fryers, partitioned by type and whether they are in use.",
			[]string{"type", "in_use"}, nil,
		),
		dueDesc: prometheus.NewDesc(
			"boilbot_boilouts_due_this_week",
			"Boil-outs falling in the current week.",
			nil, nil,
		),
		overdueDesc: prometheus.NewDesc(
			"boilbot_boilouts_overdue",
			"In-use fryers whose next boil-out is before today.",
			nil, nil,
		),
	}
}

func (c *unitCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.unitsDesc
	ch <- c.dueDesc
	ch <- c.overdueDesc
}

func (c *unitCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Snapshot()
	today := c.cal.Today()

	type key struct {
		t     equipment.Type
		inUse bool
	}
	counts := map[key]int{}
	for _, t := range equipment.Types {
		counts[key{t, true}] = 0
		counts[key{t, false}] = 0
	}
	overdue := 0
	for _, u := range st.Units {
		counts[key{u.Type, u.InUse}]++
		if u.InUse && !u.NextBoilout.IsZero() && u.NextBoilout.Before(today) {
			overdue++
		}
	}
	for k, n := range counts {
		inUse := "false"
		if k.inUse {
			inUse = "true"
		}
		ch <- prometheus.MustNewConstMetric(c.unitsDesc, prometheus.GaugeValue, float64(n), k.t.String(), inUse)
	}
	week := schedule.Week(c.cal, st, today)
	ch <- prometheus.MustNewConstMetric(c.dueDesc, prometheus.GaugeValue, float64(len(week.Boilouts)))
	ch <- prometheus.MustNewConstMetric(c.overdueDesc, prometheus.GaugeValue, float64(overdue))
}
