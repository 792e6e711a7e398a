package schedule

import (
	"strings"
	"testing"
	"time"

	"boilbot/internal/calendar"
	"boilbot/internal/equipment"
)

var cal = calendar.New(time.Sunday, time.UTC)

func d(t *testing.T, s string) calendar.Date {
	t.Helper()
	v, err := calendar.ParseDate(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func unit(t *testing.T, name string, typ equipment.Type, last string, cadence equipment.CadenceTable) equipment.Unit {
	t.Helper()
	u := equipment.Unit{Name: name, Type: typ, LastService: d(t, last), InUse: true}
	if err := (equipment.Projector{Calendar: cal}).Refresh(&u, cadence); err != nil {
		t.Fatal(err)
	}
	return u
}

func names(es []Entry) string {
	var out []string
	for _, e := range es {
		out = append(out, e.Unit.Name+"@"+e.Date.String())
	}
	return strings.Join(out, ",")
}

func TestWeek(t *testing.T) {
	cad := equipment.DefaultCadence()
	twoFilters := unit(t, "Fry3", equipment.Potato, "2025-09-01", cad)
	twoFilters.NextFilterChanges = []calendar.Date{d(t, "2025-10-24"), d(t, "2025-10-21")}
	st := equipment.State{Cadence: cad, Units: []equipment.Unit{
		unit(t, "Fry1", equipment.Pressure, "2025-09-15", cad), // boil-out 2025-10-20
		unit(t, "Fry2", equipment.Open, "2025-09-15", cad),     // boil-out 2025-10-27
		twoFilters,
	}}

	got := Week(cal, st, d(t, "2025-10-22"))
	if s := names(got.Boilouts); s != "Fry1@2025-10-20" {
		t.Fatalf("boilouts = %s", s)
	}
	if s := names(got.FilterChanges); s != "Fry3@2025-10-21" {
		t.Fatalf("filter changes = %s", s)
	}
}

func TestWeekIncludesFreshUnitOnlyWhenDueInWindow(t *testing.T) {
	ref := "2025-09-15"
	far := equipment.State{Cadence: equipment.DefaultCadence(), Units: []equipment.Unit{
		unit(t, "Fry2", equipment.Pressure, ref, equipment.DefaultCadence()),
	}}
	if got := Week(cal, far, d(t, ref)); len(got.Boilouts) != 0 {
		t.Fatalf("30-day cadence should not be due this week: %s", names(got.Boilouts))
	}

	short := equipment.CadenceTable{equipment.Pressure: 3}
	near := equipment.State{Cadence: short, Units: []equipment.Unit{
		unit(t, "Fry2", equipment.Pressure, ref, short),
	}}
	if got := Week(cal, near, d(t, ref)); names(got.Boilouts) != "Fry2@2025-09-18" {
		t.Fatalf("boilouts = %s", names(got.Boilouts))
	}
}

func TestMonthKeepsQuirks(t *testing.T) {
	cad := equipment.DefaultCadence()
	lastYear := unit(t, "Fry3", equipment.Potato, "2026-02-02", cad)
	lastYear.NextFilterChanges = []calendar.Date{d(t, "2024-10-10")}
	st := equipment.State{Cadence: cad, Units: []equipment.Unit{
		unit(t, "Fry1", equipment.Pressure, "2025-09-15", cad), // filter 2025-09-26
		unit(t, "Fry2", equipment.Open, "2025-09-15", cad),     // filter 2025-10-02
		lastYear,
	}}

	got := Month(st, d(t, "2025-10-05"))
	got.Sort()
	if s := names(got.Boilouts); s != "Fry1@2025-10-20,Fry2@2025-10-27,Fry3@2026-02-19" {
		t.Fatalf("boilouts = %s", s)
	}
	if s := names(got.FilterChanges); s != "Fry3@2024-10-10,Fry2@2025-10-02" {
		t.Fatalf("filter changes = %s", s)
	}
}

func TestSortByDateThenName(t *testing.T) {
	s := Schedule{Boilouts: []Entry{
		{Unit: equipment.Unit{Name: "B"}, Date: d(t, "2025-10-02")},
		{Unit: equipment.Unit{Name: "C"}, Date: d(t, "2025-10-01")},
		{Unit: equipment.Unit{Name: "A"}, Date: d(t, "2025-10-02")},
	}}
	s.Sort()
	if got := names(s.Boilouts); got != "C@2025-10-01,A@2025-10-02,B@2025-10-02" {
		t.Fatalf("sorted = %s", got)
	}
}

type staticSource equipment.State

func (s staticSource) Snapshot() equipment.State { return equipment.State(s).Clone() }

func TestServiceWeeklyDigest(t *testing.T) {
	cad := equipment.DefaultCadence()
	src := staticSource{Cadence: cad, Units: []equipment.Unit{unit(t, "Fry1", equipment.Pressure, "2025-09-15", cad)}}
	svc := NewService(src, cal)

	dg := svc.WeeklyDigest(time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC))
	if dg.WeekOf != "October 20th" {
		t.Fatalf("WeekOf = %q", dg.WeekOf)
	}
	if names(dg.Schedule.Boilouts) != "Fry1@2025-10-20" {
		t.Fatalf("digest boilouts = %s", names(dg.Schedule.Boilouts))
	}
}

func TestRenderWeek(t *testing.T) {
	cad := equipment.DefaultCadence()
	st := equipment.State{Cadence: cad, Units: []equipment.Unit{unit(t, "Fry<1>", equipment.Pressure, "2025-09-15", cad)}}
	ref := d(t, "2025-10-22")

	out := RenderWeek(cal, ref, Week(cal, st, ref))
	if !strings.HasPrefix(out, "<b>Week of October 20th</b>\n") {
		t.Fatalf("header: %q", out)
	}
	if !strings.Contains(out, "<b>Monday</b>\nBoil Outs:\n• Fry&lt;1&gt;") {
		t.Fatalf("body: %q", out)
	}

	empty := RenderWeek(cal, ref, Schedule{})
	if empty != "<b>Week of October 20th</b>\n"+EmptyWeekText {
		t.Fatalf("empty week = %q", empty)
	}
}

func TestRenderMonth(t *testing.T) {
	cad := equipment.DefaultCadence()
	st := equipment.State{Cadence: cad, Units: []equipment.Unit{unit(t, "Fry2", equipment.Open, "2025-09-15", cad)}}
	ref := d(t, "2025-10-05")

	out := RenderMonth(ref, Month(st, ref))
	want := "<b>Month of October</b>\n\nBoil Outs:\n• Fry2 - October 27\n\nFilter Changes:\n• Fry2 - October 2"
	if out != want {
		t.Fatalf("RenderMonth =\n%q\nwant\n%q", out, want)
	}
}

func TestMonthListsUnitWithoutCadence(t *testing.T) {
	cad := equipment.CadenceTable{equipment.Open: 36}
	orphan := equipment.Unit{Name: "Spud", Type: equipment.Potato, LastService: d(t, "2025-09-15"), InUse: true}
	st := equipment.State{Cadence: cad, Units: []equipment.Unit{unit(t, "Fry2", equipment.Open, "2025-09-15", cad), orphan}}
	ref := d(t, "2025-10-05")

	got := Month(st, ref)
	if len(got.Boilouts) != 2 {
		t.Fatalf("boilouts = %s, want both units", names(got.Boilouts))
	}
	out := RenderMonth(ref, got)
	want := "<b>Month of October</b>\n\nBoil Outs:\n• Spud - unknown\n• Fry2 - October 27\n\nFilter Changes:\n• Fry2 - October 2"
	if out != want {
		t.Fatalf("RenderMonth =\n%q\nwant\n%q", out, want)
	}
}
