package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"boilbot/internal/calendar"
	"boilbot/internal/equipment"
	"boilbot/internal/registry"
	"boilbot/internal/schedule"
	"boilbot/internal/storage"
	"boilbot/internal/transport"
	logx "boilbot/pkg/logx"
)

const submissionErrorText = "There was an error with your submission."

type Deps struct {
	Registry *registry.Registry
	Schedule *schedule.Service
	Sender   Sender
	// Audit and History are optional.
	Audit   storage.AuditLog
	History storage.AuditReader
	Log     logx.Logger
}

// Bot holds the command handlers.
type Bot struct {
	reg     *registry.Registry
	sched   *schedule.Service
	sender  Sender
	audit   storage.AuditLog
	history storage.AuditReader
	log     logx.Logger

	mu       sync.RWMutex
	groupLog transport.ChatTarget
}

func New(d Deps) *Bot {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{
		reg:     d.Registry,
		sched:   d.Schedule,
		sender:  d.Sender,
		audit:   d.Audit,
		history: d.History,
		log:     log,
	}
}

// SetGroupLog sets where submission notices go; a zero target disables them.
func (b *Bot) SetGroupLog(t transport.ChatTarget) {
	b.mu.Lock()
	b.groupLog = t
	b.mu.Unlock()
}

func (b *Bot) Commands() []Command {
	return []Command{
		{Name: "week", Description: "boil-outs and filter changes this week", Usage: "/week", Handle: b.cmdWeek},
		{Name: "month", Description: "boil-outs and filter changes this month", Usage: "/month", Handle: b.cmdMonth},
		{Name: "fryers", Aliases: []string{"list"}, Description: "list fryers", Usage: "/fryers", Handle: b.cmdFryers},
		{
			Name:        "boilout",
			Description: "record a boil-out",
			Usage:       "/boilout <name> [YYYY-MM-DD] [flip] [notinuse]",
			Access:      AccessMutation,
			Timeout:     15 * time.Second,
			Handle:      b.cmdBoilout,
		},
		{
			Name:        "addfryer",
			Description: "register a fryer",
			Usage:       "/addfryer <name> <open|pressure|potato> [YYYY-MM-DD]",
			Access:      AccessMutation,
			Timeout:     15 * time.Second,
			Handle:      b.cmdAddFryer,
		},
		{
			Name:        "cadence",
			Description: "set business days between boil-outs for a type",
			Usage:       "/cadence <open|pressure|potato> <days>",
			Access:      AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      b.cmdCadence,
		},
		{Name: "history", Description: "recent submissions", Usage: "/history [count]", Handle: b.cmdHistory},
	}
}

func (b *Bot) reply(ctx context.Context, req *Request, text string) error {
	_, err := b.sender.SendText(ctx, req.Chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (b *Bot) cmdWeek(ctx context.Context, req *Request) error {
	ref := b.sched.Today()
	return b.reply(ctx, req, schedule.RenderWeek(b.sched.Calendar(), ref, b.sched.Week(ref)))
}

func (b *Bot) cmdMonth(ctx context.Context, req *Request) error {
	ref := b.sched.Today()
	return b.reply(ctx, req, schedule.RenderMonth(ref, b.sched.Month(ref)))
}

func (b *Bot) cmdFryers(ctx context.Context, req *Request) error {
	units := b.reg.Units()
	if len(units) == 0 {
		return b.reply(ctx, req, "No fryers registered yet. Add one with /addfryer.")
	}
	var sb strings.Builder
	sb.WriteString("<b>Fryers</b>\n")
	for _, u := range units {
		sb.WriteString("• " + escape(u.Label()))
		if !u.NextBoilout.IsZero() {
			sb.WriteString(" - next boil-out " + longDate(u.NextBoilout))
		}
		sb.WriteString("\n")
	}
	return b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) cmdBoilout(ctx context.Context, req *Request) error {
	rec, err := parseBoilout(req.Args, b.sched.Today())
	if err != nil {
		return b.reply(ctx, req, usageError(err, "/boilout <name> [YYYY-MM-DD] [flip] [notinuse]"))
	}

	u, err := b.reg.RecordService(ctx, rec)
	b.record(ctx, req, "boilout", rec.Name, fmt.Sprintf("date=%s flip=%t notinuse=%t", rec.Date, rec.ToggleType, rec.NotInUse), err)
	if err != nil {
		msg := submissionErrorText
		if errors.Is(err, registry.ErrNotFound) {
			msg += " No fryer named " + escape(rec.Name) + "."
		}
		_ = b.reply(ctx, req, msg)
		if errors.Is(err, registry.ErrNotFound) {
			return nil
		}
		return err
	}

	b.notifyGroup(ctx, fmt.Sprintf("%s just submitted the boilout for %s", req.Mention(), u.Name))
	return b.reply(ctx, req, fmt.Sprintf("Boil-out recorded for %s. Next boil-out: %s.", escape(u.Label()), longDate(u.NextBoilout)))
}

func (b *Bot) cmdAddFryer(ctx context.Context, req *Request) error {
	const usage = "/addfryer <name> <open|pressure|potato> [YYYY-MM-DD]"
	if len(req.Args) < 2 || len(req.Args) > 3 {
		return b.reply(ctx, req, usageError(nil, usage))
	}
	t, err := equipment.ParseType(req.Args[1])
	if err != nil {
		return b.reply(ctx, req, usageError(err, usage))
	}
	date := b.sched.Today()
	if len(req.Args) == 3 {
		if date, err = calendar.ParseDate(req.Args[2]); err != nil {
			return b.reply(ctx, req, usageError(err, usage))
		}
	}

	name := req.Args[0]
	u, err := b.reg.Register(ctx, name, t, date)
	b.record(ctx, req, "addfryer", name, fmt.Sprintf("type=%s date=%s", t, date), err)
	switch {
	case errors.Is(err, registry.ErrDuplicate):
		return b.reply(ctx, req, "A fryer named "+escape(name)+" already exists.")
	case errors.Is(err, registry.ErrInvalidInput):
		return b.reply(ctx, req, usageError(err, usage))
	case err != nil:
		_ = b.reply(ctx, req, submissionErrorText)
		return err
	}
	return b.reply(ctx, req, fmt.Sprintf("Added %s. Next boil-out: %s.", escape(u.Label()), longDate(u.NextBoilout)))
}

func (b *Bot) cmdCadence(ctx context.Context, req *Request) error {
	const usage = "/cadence <open|pressure|potato> <days>"
	if len(req.Args) != 2 {
		return b.reply(ctx, req, usageError(nil, usage))
	}
	t, err := equipment.ParseType(req.Args[0])
	if err != nil {
		return b.reply(ctx, req, usageError(err, usage))
	}
	days, err := strconv.Atoi(req.Args[1])
	if err != nil || days <= 0 {
		return b.reply(ctx, req, usageError(errors.New("days must be a positive number"), usage))
	}

	err = b.reg.SetCadence(ctx, t, days)
	b.record(ctx, req, "cadence", t.String(), "days="+strconv.Itoa(days), err)
	if err != nil {
		_ = b.reply(ctx, req, submissionErrorText)
		return err
	}
	return b.reply(ctx, req, fmt.Sprintf("%s fryers are now boiled out every %d business days.", t, days))
}

func (b *Bot) cmdHistory(ctx context.Context, req *Request) error {
	if b.history == nil {
		return b.reply(ctx, req, "History is not enabled.")
	}
	limit := 10
	if len(req.Args) > 0 {
		if n, err := strconv.Atoi(req.Args[0]); err == nil && n > 0 && n <= 50 {
			limit = n
		}
	}
	entries, err := b.history.RecentAudit(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return b.reply(ctx, req, "No submissions yet.")
	}
	loc := b.sched.Calendar().Location
	if loc == nil {
		loc = time.UTC
	}
	var sb strings.Builder
	sb.WriteString("<b>Recent submissions</b>\n")
	for _, e := range entries {
		status := "ok"
		if !e.OK {
			status = "failed"
		}
		fmt.Fprintf(&sb, "• %s %s %s %s (%s)\n",
			e.At.In(loc).Format("Jan 2 15:04"), escape(e.ActorName), e.Action, escape(e.Target), status)
	}
	return b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"))
}

// record appends an audit entry; failures are logged, never surfaced.
func (b *Bot) record(ctx context.Context, req *Request, action, target, detail string, err error) {
	if b.audit == nil {
		return
	}
	e := storage.AuditEntry{
		ActorID:   req.FromID,
		ActorName: req.Mention(),
		Action:    action,
		Target:    target,
		Detail:    detail,
		OK:        err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := b.audit.AppendAudit(ctx, e); aerr != nil {
		req.Logger.Warn("audit append failed", logx.Err(aerr))
	}
}

func (b *Bot) notifyGroup(ctx context.Context, text string) {
	b.mu.RLock()
	to := b.groupLog
	b.mu.RUnlock()
	if to.ChatID == 0 {
		return
	}
	if _, err := b.sender.SendText(ctx, to, escape(text), &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}); err != nil {
		b.log.Warn("group notice failed", logx.Err(err))
	}
}

// parseBoilout reads "<name> [date] [flip] [notinuse]" in any order after the name.
func parseBoilout(args []string, today calendar.Date) (registry.ServiceRecord, error) {
	if len(args) == 0 {
		return registry.ServiceRecord{}, errors.New("missing fryer name")
	}
	rec := registry.ServiceRecord{Name: args[0], Date: today}
	for _, a := range args[1:] {
		switch strings.ToLower(strings.TrimLeft(a, "-")) {
		case "flip", "toggle":
			rec.ToggleType = true
		case "notinuse", "not-in-use", "parked":
			rec.NotInUse = true
		default:
			d, err := calendar.ParseDate(a)
			if err != nil {
				return registry.ServiceRecord{}, fmt.Errorf("unrecognized %q", a)
			}
			rec.Date = d
		}
	}
	return rec, nil
}

func usageError(err error, usage string) string {
	if err != nil {
		return escape(err.Error()) + "\nUsage: <code>" + escape(usage) + "</code>"
	}
	return "Usage: <code>" + escape(usage) + "</code>"
}

// longDate formats "October 5".
func longDate(d calendar.Date) string {
	if d.IsZero() {
		return "unknown"
	}
	return fmt.Sprintf("%s %d", d.Month(), d.Day())
}
