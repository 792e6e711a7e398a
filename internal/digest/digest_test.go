package digest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"boilbot/internal/calendar"
	"boilbot/internal/equipment"
	"boilbot/internal/schedule"
	"boilbot/internal/transport"
	logx "boilbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	to   []transport.ChatTarget
	text []string
	err  error
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.to = append(f.to, to)
	f.text = append(f.text, text)
	return transport.MessageRef{}, f.err
}

type stateSource struct{ st equipment.State }

func (s stateSource) Snapshot() equipment.State { return s.st.Clone() }

func newTrigger(t *testing.T, sender Sender) *Trigger {
	t.Helper()
	cal := calendar.New(time.Sunday, time.UTC)
	u := equipment.Unit{Name: "Fry1", Type: equipment.Pressure, LastService: calendar.NewDate(2025, time.September, 15), InUse: true}
	if err := (equipment.Projector{Calendar: cal}).Refresh(&u, equipment.DefaultCadence()); err != nil {
		t.Fatal(err)
	}
	svc := schedule.NewService(stateSource{equipment.State{Units: []equipment.Unit{u}, Cadence: equipment.DefaultCadence()}}, cal)
	return New(svc, sender, logx.Nop())
}

func TestRunPostsWeek(t *testing.T) {
	sender := &fakeSender{}
	tr := newTrigger(t, sender)
	target := transport.ChatTarget{ChatID: -100, ThreadID: 3}
	if err := tr.Reschedule(Config{Target: target}); err != nil {
		t.Fatal(err)
	}

	var observed []error
	tr.OnRun = func(err error) { observed = append(observed, err) }
	if err := tr.Run(context.Background(), time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sender.text) != 1 || sender.to[0] != target {
		t.Fatalf("sent %d to %+v", len(sender.text), sender.to)
	}
	if !strings.Contains(sender.text[0], "Week of October 20th") || !strings.Contains(sender.text[0], "• Fry1") {
		t.Fatalf("text = %q", sender.text[0])
	}
	if len(observed) != 1 || observed[0] != nil {
		t.Fatalf("OnRun = %v", observed)
	}
}

func TestRunReportsSendFailure(t *testing.T) {
	tr := newTrigger(t, &fakeSender{err: errors.New("chat not found")})
	if err := tr.Run(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error")
	}
}

func TestScheduleInZone(t *testing.T) {
	tr := newTrigger(t, &fakeSender{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tr.Start(ctx, Config{Enabled: true, Schedule: "0 9 * * 1", Timezone: "America/New_York"}); err != nil {
		t.Skipf("zone data unavailable: %v", err)
	}
	defer tr.Stop(context.Background())

	loc, _ := time.LoadLocation("America/New_York")
	next := tr.Next().In(loc)
	if next.Weekday() != time.Monday || next.Hour() != 9 || next.Minute() != 0 {
		t.Fatalf("next = %v", next)
	}

	if err := tr.Reschedule(Config{Enabled: true, Schedule: "not a cron"}); err == nil {
		t.Fatal("expected parse error")
	}
	if tr.Next().IsZero() {
		t.Fatal("failed reschedule dropped the old schedule")
	}

	if err := tr.Reschedule(Config{Enabled: false}); err != nil {
		t.Fatal(err)
	}
	if !tr.Next().IsZero() {
		t.Fatal("disabled digest still scheduled")
	}
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()
	for _, spec := range []string{"0 9 * * 1", "30 0 9 * * 1", "@weekly"} {
		if _, err := ParseSchedule(spec); err != nil {
			t.Fatalf("ParseSchedule(%q): %v", spec, err)
		}
	}
	for _, spec := range []string{"", "soon", "0 25 * * *"} {
		if _, err := ParseSchedule(spec); err == nil {
			t.Fatalf("ParseSchedule(%q) should fail", spec)
		}
	}
}
