// Package equipment defines fryer units, their types and cadence table, and the
// projector that derives next boil-out and filter-change dates.
package equipment

import (
	"errors"
	"strconv"
	"strings"

	"boilbot/internal/calendar"
)

var (
	// ErrNoCadence is returned when a unit's type has no entry in the cadence table.
	ErrNoCadence = errors.New("no cadence for equipment type")
	// ErrUnknownType is returned when a type index or name does not map to a Type.
	ErrUnknownType = errors.New("unknown equipment type")
)

// Type selects the boil-out cadence and filter-change policy of a unit.
// Values are persisted as integers; keep existing codes stable.
type Type int

const (
	Open Type = iota
	Pressure
	Potato
)

// Types lists every known type in index order (used for selection menus).
var Types = []Type{Open, Pressure, Potato}

func (t Type) String() string {
	switch t {
	case Open:
		return "Open"
	case Pressure:
		return "Pressure"
	case Potato:
		return "Potato"
	default:
		return ""
	}
}

func (t Type) Valid() bool { return t >= Open && t <= Potato }

// TypeFromIndex is the pure index -> variant lookup used by chat menus.
func TypeFromIndex(i int) (Type, bool) {
	t := Type(i)
	if !t.Valid() {
		return 0, false
	}
	return t, true
}

// ParseType accepts an index ("0") or a case-insensitive name ("pressure").
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.Atoi(s); err == nil {
		if t, ok := TypeFromIndex(i); ok {
			return t, nil
		}
		return 0, ErrUnknownType
	}
	for _, t := range Types {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, ErrUnknownType
}

// Toggle flips Open to Pressure and everything else to Open.
// Potato is not part of a cycle; toggling it yields Open.
func Toggle(t Type) Type {
	if t == Open {
		return Pressure
	}
	return Open
}

// CadenceTable maps a type to the number of business days between boil-outs.
type CadenceTable map[Type]int

// DefaultCadence is written to fresh state blobs.
func DefaultCadence() CadenceTable {
	return CadenceTable{Open: 36, Pressure: 30, Potato: 15}
}

func (c CadenceTable) Clone() CadenceTable {
	out := make(CadenceTable, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// FilterOffsets returns the business-day offsets of filter changes after a boil-out.
// The policy is fixed per type and is not part of the persisted cadence table.
func FilterOffsets(t Type) []int {
	switch t {
	case Open:
		return []int{15}
	case Pressure:
		return []int{10}
	default:
		return nil
	}
}

// Unit is one fryer. NextBoilout and NextFilterChanges are caches derived from
// LastService, Type and the cadence table; refresh them after any change.
type Unit struct {
	Name              string
	Type              Type
	LastService       calendar.Date
	InUse             bool
	NextBoilout       calendar.Date
	NextFilterChanges []calendar.Date
}

// Label renders "Fry1 (Open)" with a " - Not In Use" suffix when parked.
func (u Unit) Label() string {
	s := u.Name + " (" + u.Type.String() + ")"
	if !u.InUse {
		s += " - Not In Use"
	}
	return s
}

func (u Unit) Clone() Unit {
	cp := u
	if u.NextFilterChanges != nil {
		cp.NextFilterChanges = append([]calendar.Date(nil), u.NextFilterChanges...)
	}
	return cp
}

// State is the unit of persistence: every unit plus the cadence table.
type State struct {
	Units   []Unit
	Cadence CadenceTable
}

func DefaultState() State {
	return State{Units: []Unit{}, Cadence: DefaultCadence()}
}

// Clone returns a deep copy safe to hand to readers.
func (s State) Clone() State {
	out := State{Units: make([]Unit, len(s.Units)), Cadence: s.Cadence.Clone()}
	for i, u := range s.Units {
		out.Units[i] = u.Clone()
	}
	return out
}

// Find returns the index of the first unit named name, or -1.
func (s State) Find(name string) int {
	for i := range s.Units {
		if s.Units[i].Name == name {
			return i
		}
	}
	return -1
}
