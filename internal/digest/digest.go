// Package digest posts the week's boil-out schedule on a cron trigger.
package digest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"boilbot/internal/schedule"
	"boilbot/internal/transport"
	logx "boilbot/pkg/logx"
)

// Sender is the subset of transport.Adapter the digest needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Config struct {
	Enabled  bool
	Schedule string // cron, seconds optional, descriptors allowed
	Timezone string
	Target   transport.ChatTarget
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates a cron spec the way the trigger will read it.
func ParseSchedule(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, errors.New("empty schedule")
	}
	s, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return s, nil
}

// Trigger owns one cron instance running the weekly post.
type Trigger struct {
	svc    *schedule.Service
	sender Sender
	log    logx.Logger

	// OnRun observes each post; used for metrics.
	OnRun func(err error)

	// mu guards the cron instance and may be held while waiting for a running job;
	// jobs only touch cfgMu.
	mu      sync.Mutex
	c       *cron.Cron
	entry   cron.EntryID
	running bool

	cfgMu sync.RWMutex
	ctx   context.Context
	cfg   Config
}

func New(svc *schedule.Service, sender Sender, log logx.Logger) *Trigger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Trigger{svc: svc, sender: sender, log: log}
}

// Start installs cfg and starts the cron loop. Jobs stop when ctx is done.
func (t *Trigger) Start(ctx context.Context, cfg Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfgMu.Lock()
	t.ctx = ctx
	t.cfgMu.Unlock()
	t.running = true
	return t.restartLocked(cfg)
}

// Reschedule swaps the schedule, zone or target. A failed parse keeps the old one.
func (t *Trigger) Reschedule(cfg Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		t.setConfig(cfg)
		return nil
	}
	return t.restartLocked(cfg)
}

func (t *Trigger) restartLocked(cfg Config) error {
	loc := time.UTC
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("digest timezone: %w", err)
		}
		loc = l
	}
	var sched cron.Schedule
	if cfg.Enabled {
		s, err := ParseSchedule(cfg.Schedule)
		if err != nil {
			return err
		}
		sched = s
	}

	if t.c != nil {
		<-t.c.Stop().Done()
		t.c = nil
	}
	t.setConfig(cfg)
	if !cfg.Enabled {
		t.log.Info("weekly digest disabled")
		return nil
	}

	t.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	t.entry = t.c.Schedule(sched, cron.FuncJob(t.fire))
	t.c.Start()
	t.log.Info("weekly digest scheduled",
		logx.String("schedule", cfg.Schedule),
		logx.String("tz", loc.String()),
		logx.Time("next", t.c.Entry(t.entry).Next),
	)
	return nil
}

func (t *Trigger) setConfig(cfg Config) {
	t.cfgMu.Lock()
	t.cfg = cfg
	t.cfgMu.Unlock()
}

func (t *Trigger) fire() {
	t.cfgMu.RLock()
	ctx := t.ctx
	t.cfgMu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := t.Run(rctx, time.Now()); err != nil {
		t.log.Error("weekly digest failed", logx.Err(err))
	}
}

// Run builds the digest for now and posts it to the configured target.
func (t *Trigger) Run(ctx context.Context, now time.Time) error {
	t.cfgMu.RLock()
	target := t.cfg.Target
	t.cfgMu.RUnlock()

	d := t.svc.WeeklyDigest(now)
	text := schedule.RenderDigest(t.svc.Calendar(), d)
	_, err := t.sender.SendText(ctx, target, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if t.OnRun != nil {
		t.OnRun(err)
	}
	if err != nil {
		return fmt.Errorf("post digest: %w", err)
	}
	t.log.Info("weekly digest posted",
		logx.String("week_of", d.WeekOf),
		logx.Int("boilouts", len(d.Schedule.Boilouts)),
		logx.Int("filter_changes", len(d.Schedule.FilterChanges)),
	)
	return nil
}

// Next reports the next fire time, zero when disabled or stopped.
func (t *Trigger) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.c == nil {
		return time.Time{}
	}
	return t.c.Entry(t.entry).Next
}

// Stop halts the cron loop and waits for a running post to finish or ctx to end.
func (t *Trigger) Stop(ctx context.Context) {
	t.mu.Lock()
	c := t.c
	t.c = nil
	t.running = false
	t.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
