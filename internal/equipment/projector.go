package equipment

import (
	"fmt"

	"boilbot/internal/calendar"
)

// Projector derives due dates. It is a pure value; methods have no side effects.
type Projector struct {
	Calendar calendar.Calendar
}

// Boilout returns LastService advanced by the type's cadence in business days.
func (p Projector) Boilout(u Unit, cadence CadenceTable) (calendar.Date, error) {
	days, ok := cadence[u.Type]
	if !ok {
		return calendar.Date{}, fmt.Errorf("%w: %s (%d)", ErrNoCadence, u.Type, int(u.Type))
	}
	return p.Calendar.AddBusinessDays(u.LastService, days), nil
}

// FilterChanges returns the filter-change dates for u, in ascending order.
// Types without a filter policy yield an empty slice.
func (p Projector) FilterChanges(u Unit) []calendar.Date {
	offsets := FilterOffsets(u.Type)
	out := make([]calendar.Date, 0, len(offsets))
	for _, n := range offsets {
		out = append(out, p.Calendar.AddBusinessDays(u.LastService, n))
	}
	return out
}

// Refresh recomputes u's cached fields. On error the boil-out cache is cleared so a
// unit with an unknown cadence never shows up as due.
func (p Projector) Refresh(u *Unit, cadence CadenceTable) error {
	u.NextFilterChanges = p.FilterChanges(*u)
	next, err := p.Boilout(*u, cadence)
	if err != nil {
		u.NextBoilout = calendar.Date{}
		return err
	}
	u.NextBoilout = next
	return nil
}
