package equipment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"boilbot/internal/calendar"
)

// ErrMalformedState marks a state blob that cannot be used (bad JSON, or a missing
// "machines" / "time_periods" field).
var ErrMalformedState = errors.New("malformed state")

// wireState is the persisted layout:
//
//	{"machines": [...], "time_periods": {"0": 36, "1": 30, "2": 15}}
//
// Derived fields are written for readability but ignored on load.
type wireState struct {
	Machines    *[]wireUnit  `json:"machines"`
	TimePeriods map[Type]int `json:"time_periods"`
}

type wireUnit struct {
	Name              string          `json:"name"`
	Type              Type            `json:"type"`
	LastBoilout       calendar.Date   `json:"last_boilout"`
	NextBoilout       calendar.Date   `json:"next_boilout"`
	NextFilterChanges []calendar.Date `json:"next_filter_changes"`
	InUse             *bool           `json:"in_use,omitempty"`
}

// Encode serializes s as indented JSON.
func Encode(s State) ([]byte, error) {
	units := make([]wireUnit, 0, len(s.Units))
	for _, u := range s.Units {
		inUse := u.InUse
		fc := u.NextFilterChanges
		if fc == nil {
			fc = []calendar.Date{}
		}
		units = append(units, wireUnit{
			Name:              u.Name,
			Type:              u.Type,
			LastBoilout:       u.LastService,
			NextBoilout:       u.NextBoilout,
			NextFilterChanges: fc,
			InUse:             &inUse,
		})
	}
	tp := map[Type]int(s.Cadence)
	if tp == nil {
		tp = map[Type]int{}
	}
	return json.MarshalIndent(wireState{Machines: &units, TimePeriods: tp}, "", "  ")
}

// Decode parses a state blob. Cached fields are left empty; callers must refresh
// them through a Projector before exposing the state.
func Decode(b []byte) (State, error) {
	var w wireState
	if len(bytes.TrimSpace(b)) == 0 {
		return State{}, fmt.Errorf("%w: empty blob", ErrMalformedState)
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	if w.Machines == nil {
		return State{}, fmt.Errorf("%w: missing machines", ErrMalformedState)
	}
	if w.TimePeriods == nil {
		return State{}, fmt.Errorf("%w: missing time_periods", ErrMalformedState)
	}

	out := State{Units: make([]Unit, 0, len(*w.Machines)), Cadence: CadenceTable(w.TimePeriods)}
	for _, m := range *w.Machines {
		inUse := true
		if m.InUse != nil {
			inUse = *m.InUse
		}
		out.Units = append(out.Units, Unit{
			Name:        m.Name,
			Type:        m.Type,
			LastService: m.LastBoilout,
			InUse:       inUse,
		})
	}
	return out, nil
}
