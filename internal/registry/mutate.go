package registry

import (
	"context"
	"fmt"
	"strings"

	"boilbot/internal/calendar"
	"boilbot/internal/equipment"
	logx "boilbot/pkg/logx"
)

// ServiceRecord describes a completed boil-out.
type ServiceRecord struct {
	Name       string
	Date       calendar.Date
	ToggleType bool
	NotInUse   bool
}

// Register adds an in-use unit serviced on date and persists the state.
// The returned unit carries its computed due dates even when the save failed.
func (r *Registry) Register(ctx context.Context, name string, t equipment.Type, date calendar.Date) (equipment.Unit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return equipment.Unit{}, fmt.Errorf("%w: empty name", ErrInvalidInput)
	}
	if !t.Valid() {
		return equipment.Unit{}, fmt.Errorf("%w: %d", equipment.ErrUnknownType, int(t))
	}
	if date.IsZero() {
		return equipment.Unit{}, fmt.Errorf("%w: missing service date", calendar.ErrInvalidDate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dups == DuplicatesReject && r.state.Find(name) >= 0 {
		return equipment.Unit{}, fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	u := equipment.Unit{Name: name, Type: t, LastService: date, InUse: true}
	if err := r.proj.Refresh(&u, r.state.Cadence); err != nil {
		return equipment.Unit{}, err
	}
	r.state.Units = append(r.state.Units, u)
	r.log.Info("unit registered", logx.String("unit", name), logx.Stringer("type", t), logx.Stringer("next_boilout", u.NextBoilout))
	return u.Clone(), r.save(ctx)
}

// RecordService applies a completed boil-out to the first unit named rec.Name and
// persists the state. An unknown name returns ErrNotFound with nothing changed.
func (r *Registry) RecordService(ctx context.Context, rec ServiceRecord) (equipment.Unit, error) {
	if rec.Date.IsZero() {
		return equipment.Unit{}, fmt.Errorf("%w: missing service date", calendar.ErrInvalidDate)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.state.Find(rec.Name)
	if i < 0 {
		return equipment.Unit{}, fmt.Errorf("%w: %s", ErrNotFound, rec.Name)
	}
	u := &r.state.Units[i]
	if rec.ToggleType {
		u.Type = equipment.Toggle(u.Type)
	}
	u.InUse = !rec.NotInUse
	u.LastService = rec.Date
	if err := r.proj.Refresh(u, r.state.Cadence); err != nil {
		r.log.Warn("unit has no cadence", logx.String("unit", u.Name), logx.Err(err))
	}
	r.log.Info("service recorded",
		logx.String("unit", u.Name),
		logx.Stringer("date", rec.Date),
		logx.Stringer("type", u.Type),
		logx.Bool("in_use", u.InUse),
		logx.Stringer("next_boilout", u.NextBoilout),
	)
	out := u.Clone()
	return out, r.save(ctx)
}

// SetCadence changes the boil-out interval of t, refreshes every unit and persists.
func (r *Registry) SetCadence(ctx context.Context, t equipment.Type, days int) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %d", equipment.ErrUnknownType, int(t))
	}
	if days <= 0 {
		return fmt.Errorf("%w: cadence must be positive, got %d", ErrInvalidInput, days)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Cadence == nil {
		r.state.Cadence = equipment.CadenceTable{}
	}
	r.state.Cadence[t] = days
	r.refreshAll(&r.state)
	r.log.Info("cadence changed", logx.Stringer("type", t), logx.Int("days", days))
	return r.save(ctx)
}
