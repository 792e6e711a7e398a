// Package schedule answers "what is due this week" and "what is due this month"
// from the projected dates held by the registry.
package schedule

import (
	"sort"
	"time"

	"boilbot/internal/calendar"
	"boilbot/internal/equipment"
)

// Entry is one due event for one unit.
type Entry struct {
	Unit equipment.Unit
	Date calendar.Date
}

type Schedule struct {
	Boilouts      []Entry
	FilterChanges []Entry
}

func (s Schedule) Empty() bool { return len(s.Boilouts) == 0 && len(s.FilterChanges) == 0 }

// Sort orders both lists by date, then unit name. Queries return unordered lists.
func (s *Schedule) Sort() {
	sortEntries(s.Boilouts)
	sortEntries(s.FilterChanges)
}

func sortEntries(es []Entry) {
	sort.SliceStable(es, func(i, j int) bool {
		if !es[i].Date.Equal(es[j].Date) {
			return es[i].Date.Before(es[j].Date)
		}
		return es[i].Unit.Name < es[j].Unit.Name
	})
}

// Week returns boil-outs due in ref's rest-day-anchored week and, per unit, the
// earliest filter change falling in that week.
func Week(cal calendar.Calendar, st equipment.State, ref calendar.Date) Schedule {
	var out Schedule
	for _, u := range st.Units {
		if cal.InWeek(u.NextBoilout, ref) {
			out.Boilouts = append(out.Boilouts, Entry{Unit: u, Date: u.NextBoilout})
		}
		var (
			first calendar.Date
			found bool
		)
		for _, d := range u.NextFilterChanges {
			if cal.InWeek(d, ref) && (!found || d.Before(first)) {
				first, found = d, true
			}
		}
		if found {
			out.FilterChanges = append(out.FilterChanges, Entry{Unit: u, Date: first})
		}
	}
	return out
}

// Month returns every unit's next boil-out, whatever its month, and every filter
// change whose month equals ref's month. Years are not compared.
func Month(st equipment.State, ref calendar.Date) Schedule {
	var out Schedule
	for _, u := range st.Units {
		// a unit without a cadence has a zero date and is still listed
		out.Boilouts = append(out.Boilouts, Entry{Unit: u, Date: u.NextBoilout})
		for _, d := range u.NextFilterChanges {
			if d.Month() == ref.Month() {
				out.FilterChanges = append(out.FilterChanges, Entry{Unit: u, Date: d})
			}
		}
	}
	return out
}

// WeeklyDigest is the payload of the Monday morning post.
type WeeklyDigest struct {
	WeekOf   string
	Ref      calendar.Date
	Schedule Schedule
}

// Digest builds the weekly digest for ref with a sorted schedule.
func Digest(cal calendar.Calendar, st equipment.State, ref calendar.Date) WeeklyDigest {
	s := Week(cal, st, ref)
	s.Sort()
	return WeeklyDigest{WeekOf: calendar.WeekStartLabel(ref), Ref: ref, Schedule: s}
}

// Source provides read-only snapshots; *registry.Registry satisfies it.
type Source interface {
	Snapshot() equipment.State
}

// Service runs queries against the live registry snapshot.
type Service struct {
	src Source
	cal calendar.Calendar
}

func NewService(src Source, cal calendar.Calendar) *Service {
	return &Service{src: src, cal: cal}
}

func (s *Service) Calendar() calendar.Calendar { return s.cal }

func (s *Service) Today() calendar.Date { return s.cal.Today() }

func (s *Service) Week(ref calendar.Date) Schedule {
	return Week(s.cal, s.src.Snapshot(), ref)
}

func (s *Service) Month(ref calendar.Date) Schedule {
	return Month(s.src.Snapshot(), ref)
}

// WeeklyDigest builds the digest for the operating-zone date of now.
func (s *Service) WeeklyDigest(now time.Time) WeeklyDigest {
	return Digest(s.cal, s.src.Snapshot(), s.cal.DateAt(now))
}
