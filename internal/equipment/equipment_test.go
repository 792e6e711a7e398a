package equipment

import (
	"errors"
	"strings"
	"testing"
	"time"

	"boilbot/internal/calendar"
)

func date(t *testing.T, s string) calendar.Date {
	t.Helper()
	d, err := calendar.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

func TestProjectorOpenUnit(t *testing.T) {
	t.Parallel()
	p := Projector{Calendar: calendar.New(time.Sunday, time.UTC)}
	u := Unit{Name: "Fry1", Type: Open, LastService: date(t, "2025-09-15"), InUse: true}

	if err := p.Refresh(&u, DefaultCadence()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := u.NextBoilout.String(); got != "2025-10-27" {
		t.Fatalf("NextBoilout = %s, want 2025-10-27", got)
	}
	if len(u.NextFilterChanges) != 1 || u.NextFilterChanges[0].String() != "2025-10-02" {
		t.Fatalf("NextFilterChanges = %v, want [2025-10-02]", u.NextFilterChanges)
	}
}

func TestProjectorPerType(t *testing.T) {
	t.Parallel()
	p := Projector{Calendar: calendar.New(time.Sunday, time.UTC)}
	last := date(t, "2025-09-15")
	tests := []struct {
		typ     Type
		boilout string
		filters []string
	}{
		{typ: Open, boilout: "2025-10-27", filters: []string{"2025-10-02"}},
		{typ: Pressure, boilout: "2025-10-20", filters: []string{"2025-09-26"}},
		{typ: Potato, boilout: "2025-10-02", filters: nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.typ.String(), func(t *testing.T) {
			u := Unit{Name: "x", Type: tt.typ, LastService: last}
			got, err := p.Boilout(u, DefaultCadence())
			if err != nil {
				t.Fatalf("Boilout: %v", err)
			}
			if got.String() != tt.boilout {
				t.Fatalf("Boilout = %s, want %s", got, tt.boilout)
			}
			fc := p.FilterChanges(u)
			if len(fc) != len(tt.filters) {
				t.Fatalf("FilterChanges = %v, want %v", fc, tt.filters)
			}
			for i := range fc {
				if fc[i].String() != tt.filters[i] {
					t.Fatalf("FilterChanges[%d] = %s, want %s", i, fc[i], tt.filters[i])
				}
			}
		})
	}
}

func TestProjectorMissingCadence(t *testing.T) {
	t.Parallel()
	p := Projector{}
	u := Unit{Name: "x", Type: Type(7), LastService: date(t, "2025-09-15"), NextBoilout: date(t, "2025-09-16")}
	if _, err := p.Boilout(u, DefaultCadence()); !errors.Is(err, ErrNoCadence) {
		t.Fatalf("Boilout err = %v, want ErrNoCadence", err)
	}
	if err := p.Refresh(&u, DefaultCadence()); !errors.Is(err, ErrNoCadence) {
		t.Fatalf("Refresh err = %v, want ErrNoCadence", err)
	}
	if !u.NextBoilout.IsZero() {
		t.Fatalf("stale NextBoilout kept: %s", u.NextBoilout)
	}
}

func TestTypeLookup(t *testing.T) {
	t.Parallel()
	for i, want := range Types {
		got, ok := TypeFromIndex(i)
		if !ok || got != want {
			t.Fatalf("TypeFromIndex(%d) = %v, %v", i, got, ok)
		}
	}
	if _, ok := TypeFromIndex(3); ok {
		t.Fatal("TypeFromIndex(3) should fail")
	}
	if _, ok := TypeFromIndex(-1); ok {
		t.Fatal("TypeFromIndex(-1) should fail")
	}
	for in, want := range map[string]Type{"0": Open, "1": Pressure, "pressure": Pressure, " POTATO ": Potato} {
		got, err := ParseType(in)
		if err != nil || got != want {
			t.Fatalf("ParseType(%q) = %v, %v", in, got, err)
		}
	}
	for _, bad := range []string{"9", "", "basket"} {
		if _, err := ParseType(bad); !errors.Is(err, ErrUnknownType) {
			t.Fatalf("ParseType(%q) err = %v", bad, err)
		}
	}
}

func TestToggle(t *testing.T) {
	t.Parallel()
	if Toggle(Open) != Pressure || Toggle(Pressure) != Open {
		t.Fatal("open/pressure toggle broken")
	}
	if Toggle(Potato) != Open {
		t.Fatal("potato toggles to open")
	}
}

func TestUnitLabel(t *testing.T) {
	t.Parallel()
	u := Unit{Name: "Fry3", Type: Pressure, InUse: true}
	if got := u.Label(); got != "Fry3 (Pressure)" {
		t.Fatalf("Label = %q", got)
	}
	u.InUse = false
	if got := u.Label(); got != "Fry3 (Pressure) - Not In Use" {
		t.Fatalf("Label = %q", got)
	}
}

func TestDecodeLegacyBlob(t *testing.T) {
	t.Parallel()
	blob := `{
	  "machines": [
	    {"name": "Fry1", "type": 0, "last_boilout": "2025-09-15T00:00:00.000Z",
	     "next_boilout": "2025-01-01T00:00:00.000Z", "next_filter_changes": [], "in_use": false},
	    {"name": "Fry2", "type": 1, "last_boilout": "2025-09-16"}
	  ],
	  "time_periods": {"0": 36, "1": 30, "2": 15}
	}`
	s, err := Decode([]byte(blob))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(s.Units) != 2 {
		t.Fatalf("units = %d", len(s.Units))
	}
	if s.Units[0].LastService.String() != "2025-09-15" || s.Units[0].InUse {
		t.Fatalf("unit[0] = %+v", s.Units[0])
	}
	if !s.Units[0].NextBoilout.IsZero() {
		t.Fatal("persisted caches must not be trusted")
	}
	if !s.Units[1].InUse {
		t.Fatal("missing in_use defaults to true")
	}
	if s.Cadence[Pressure] != 30 {
		t.Fatalf("cadence = %v", s.Cadence)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()
	for name, blob := range map[string]string{
		"empty":          "",
		"not json":       "{",
		"no machines":    `{"time_periods": {"0": 36}}`,
		"no periods":     `{"machines": []}`,
		"null machines":  `{"machines": null, "time_periods": {}}`,
		"bad date":       `{"machines": [{"name": "a", "type": 0, "last_boilout": "soon"}], "time_periods": {}}`,
		"wrong top type": `[]`,
	} {
		if _, err := Decode([]byte(blob)); !errors.Is(err, ErrMalformedState) {
			t.Errorf("%s: err = %v, want ErrMalformedState", name, err)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()
	p := Projector{}
	s := DefaultState()
	u := Unit{Name: "Fry1", Type: Pressure, LastService: date(t, "2025-09-15"), InUse: true}
	if err := p.Refresh(&u, s.Cadence); err != nil {
		t.Fatal(err)
	}
	s.Units = append(s.Units, u)

	b, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, key := range []string{`"machines"`, `"time_periods"`, `"0": 36`, `"last_boilout": "2025-09-15"`, `"next_boilout": "2025-10-20"`} {
		if !strings.Contains(string(b), key) {
			t.Fatalf("encoded blob missing %s:\n%s", key, b)
		}
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Units[0].Name != "Fry1" || got.Units[0].Type != Pressure || got.Units[0].LastService != u.LastService {
		t.Fatalf("decoded unit = %+v", got.Units[0])
	}
}
