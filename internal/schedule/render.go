package schedule

import (
	"fmt"
	"html"
	"strings"

	"boilbot/internal/calendar"
)

const (
	EmptyWeekText  = "No boilouts scheduled this week."
	EmptyMonthText = "No boilouts scheduled this month."
)

// RenderWeek formats a week as Telegram HTML: a "Week of" header followed by the
// boil-outs and filter changes of each day of the window that has any.
func RenderWeek(cal calendar.Calendar, ref calendar.Date, s Schedule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Week of %s</b>\n", calendar.WeekStartLabel(ref))
	if s.Empty() {
		b.WriteString(EmptyWeekText)
		return b.String()
	}
	s.Sort()

	start := cal.WeekStart(ref)
	for i := 0; i < 7; i++ {
		day := start.AddDays(i)
		boil := namesOn(s.Boilouts, day)
		filt := namesOn(s.FilterChanges, day)
		if len(boil) == 0 && len(filt) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n<b>%s</b>\n", day.Weekday())
		writeGroup(&b, "Boil Outs", boil)
		writeGroup(&b, "Filter Changes", filt)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderDigest formats the weekly post.
func RenderDigest(cal calendar.Calendar, d WeeklyDigest) string {
	return RenderWeek(cal, d.Ref, d.Schedule)
}

// RenderMonth formats a month as "Month of <Month>" and two bullet lists.
func RenderMonth(ref calendar.Date, s Schedule) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Month of %s</b>\n", ref.Month())
	if s.Empty() {
		b.WriteString(EmptyMonthText)
		return b.String()
	}
	s.Sort()

	b.WriteString("\nBoil Outs:\n")
	for _, e := range s.Boilouts {
		b.WriteString(bullet(e))
	}
	b.WriteString("\nFilter Changes:\n")
	for _, e := range s.FilterChanges {
		b.WriteString(bullet(e))
	}
	return strings.TrimRight(b.String(), "\n")
}

func bullet(e Entry) string {
	if e.Date.IsZero() {
		return "• " + html.EscapeString(e.Unit.Name) + " - unknown\n"
	}
	return fmt.Sprintf("• %s - %s %d\n", html.EscapeString(e.Unit.Name), e.Date.Month(), e.Date.Day())
}

func namesOn(es []Entry, day calendar.Date) []string {
	var out []string
	for _, e := range es {
		if e.Date.Equal(day) {
			out = append(out, e.Unit.Name)
		}
	}
	return out
}

func writeGroup(b *strings.Builder, title string, names []string) {
	if len(names) == 0 {
		return
	}
	b.WriteString(title + ":\n")
	for _, n := range names {
		b.WriteString("• " + html.EscapeString(n) + "\n")
	}
}
