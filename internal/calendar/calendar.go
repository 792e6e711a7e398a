// Package calendar implements the business-day arithmetic used by the scheduler.
//
// Two different week anchors exist on purpose:
//   - business-day math and week membership are anchored on the rest day (Sunday by default)
//   - the human "Week of ..." label is always anchored on Monday
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Calendar holds the operating rest day and time zone.
// The zero value rests on Sunday and operates in UTC.
type Calendar struct {
	Rest     time.Weekday
	Location *time.Location
}

func New(rest time.Weekday, loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{Rest: rest, Location: loc}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Today returns the current calendar day in the operating zone.
func (c Calendar) Today() Date { return c.DateAt(time.Now()) }

// DateAt returns the calendar day of t in the operating zone.
func (c Calendar) DateAt(t time.Time) Date { return DateOf(t.In(c.loc())) }

// IsRest reports whether d is the weekly rest day.
func (c Calendar) IsRest(d Date) bool { return d.Weekday() == c.Rest }

// AddBusinessDays advances |n| non-rest days from d, backward when n < 0.
// If the landing day is the rest day it is pushed forward one day; in practice
// this only triggers for n == 0.
func (c Calendar) AddBusinessDays(d Date, n int) Date {
	step := 1
	remaining := n
	if n < 0 {
		step = -1
		remaining = -n
	}
	out := d
	for remaining > 0 {
		out = out.AddDays(step)
		if !c.IsRest(out) {
			remaining--
		}
	}
	if c.IsRest(out) {
		out = out.AddDays(1)
	}
	return out
}

// WeekStart returns the rest day on or before ref.
func (c Calendar) WeekStart(ref Date) Date {
	back := (int(ref.Weekday()) - int(c.Rest) + 7) % 7
	return ref.AddDays(-back)
}

// InWeek reports whether d falls in the 7-day window starting at WeekStart(ref).
func (c Calendar) InWeek(d, ref Date) bool {
	if d.IsZero() {
		return false
	}
	start := c.WeekStart(ref)
	end := start.AddDays(6)
	return !d.Before(start) && !d.After(end)
}

// Monday returns the Monday of the Monday-based week containing ref.
// Sunday belongs to the week that started six days earlier.
func Monday(ref Date) Date {
	wd := int(ref.Weekday())
	if wd == 0 {
		return ref.AddDays(-6)
	}
	return ref.AddDays(1 - wd)
}

// WeekStartLabel formats the Monday of ref's week, e.g. "September 15th".
func WeekStartLabel(ref Date) string {
	return OrdinalLabel(Monday(ref))
}

// OrdinalLabel formats d as "<Month> <day><suffix>".
func OrdinalLabel(d Date) string {
	return fmt.Sprintf("%s %d%s", d.Month(), d.Day(), ordinalSuffix(d.Day()))
}

func ordinalSuffix(day int) string {
	switch {
	case day%10 == 1 && day != 11:
		return "st"
	case day%10 == 2 && day != 12:
		return "nd"
	case day%10 == 3 && day != 13:
		return "rd"
	default:
		return "th"
	}
}

// ParseWeekday maps "sunday".."saturday" (or the first three letters) to a weekday.
func ParseWeekday(s string) (time.Weekday, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sun", "sunday":
		return time.Sunday, true
	case "mon", "monday":
		return time.Monday, true
	case "tue", "tuesday":
		return time.Tuesday, true
	case "wed", "wednesday":
		return time.Wednesday, true
	case "thu", "thursday":
		return time.Thursday, true
	case "fri", "friday":
		return time.Friday, true
	case "sat", "saturday":
		return time.Saturday, true
	default:
		return time.Sunday, false
	}
}
