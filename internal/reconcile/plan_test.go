package reconcile

import (
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/model"
)

// testWindow has its grace boundary at 2024-09-05T00:00Z.
func testWindow() Window {
	return ComputeWindow(time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC), 1, 30)
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func opFor(t *testing.T, p *Plan, id string) Operation {
	t.Helper()
	var found []Operation
	for _, op := range p.Operations {
		if op.Event.ExternalID == id {
			found = append(found, op)
		}
	}
	require.Len(t, found, 1, "operations for %s", id)
	return found[0]
}

func TestPlanScenarioCreateOnCampus(t *testing.T) {
	src := model.Event{
		ExternalID: "A",
		Summary:    "Interview",
		Location:   "Admissions Hall",
		Start:      utc(2024, 9, 10, 10, 0),
	}
	source := ClassifyAll([]model.Event{src}, "Admissions")

	p := Planner{}.Plan(source, nil, testWindow())

	require.Len(t, p.Operations, 1)
	op := p.Operations[0]
	assert.Equal(t, OpCreate, op.Kind)
	assert.Equal(t, "A", op.Event.ExternalID)
	assert.Equal(t, model.CategoryOnCampus, op.Event.Category)
	assert.True(t, op.Event.End.Equal(utc(2024, 9, 10, 11, 0)), "absent end becomes start+1h")
	assert.Equal(t, []string{"Adding event: September 10, 2024 10:00 AM - Interview"}, p.Notifications)
}

func TestPlanScenarioLocationOnlyChangeIsSilent(t *testing.T) {
	src := model.Event{
		ExternalID: "B",
		Summary:    "Open House",
		Location:   "Admissions Hall",
		Start:      utc(2024, 9, 12, 14, 0),
		End:        utc(2024, 9, 12, 16, 0),
	}
	dst := src
	dst.Location = "Admissions Hall, Room 2"
	dst.DestinationRef = "gcal-b"

	p := Planner{}.Plan([]model.Event{src}, []model.Event{dst}, testWindow())

	op := opFor(t, p, "B")
	assert.Equal(t, OpReplace, op.Kind)
	assert.Equal(t, []Field{FieldLocation}, op.Changes.Fields())
	assert.Equal(t, model.Ref("gcal-b"), op.Previous.DestinationRef)
	assert.Empty(t, p.Notifications)
}

func TestPlanScenarioDeleteSuppressedInGrace(t *testing.T) {
	dst := model.Event{
		ExternalID:     "C",
		Summary:        "Tour",
		Start:          utc(2024, 9, 4, 9, 0),
		End:            utc(2024, 9, 4, 10, 0),
		DestinationRef: "gcal-c",
	}

	p := Planner{}.Plan(nil, []model.Event{dst}, testWindow())

	op := opFor(t, p, "C")
	assert.Equal(t, OpSkip, op.Kind)
	assert.Equal(t, ReasonGraceNoDelete, op.Reason)
	assert.Zero(t, p.Count(OpDelete))
	assert.Empty(t, p.Notifications)
}

func TestPlanUnchangedPairIsSkipped(t *testing.T) {
	src := baseEvent()
	src.Start, src.End = utc(2024, 9, 10, 10, 0), model.Moment{}
	dst := src
	dst.End = utc(2024, 9, 10, 11, 0)
	dst.DestinationRef = "x"

	p := Planner{}.Plan([]model.Event{src}, []model.Event{dst}, testWindow())

	op := opFor(t, p, src.ExternalID)
	assert.Equal(t, OpSkip, op.Kind)
	assert.Equal(t, ReasonNoChange, op.Reason)
}

func TestPlanGraceAsymmetry(t *testing.T) {
	w := testWindow()
	early := utc(2024, 9, 4, 18, 0)

	newEarly := model.Event{ExternalID: "new", Summary: "New", Start: early}
	oldEarly := model.Event{ExternalID: "old", Summary: "Old", Start: early}
	oldEarlyDst := oldEarly
	oldEarlyDst.Summary = "Old (renamed)"
	oldEarlyDst.End = early.Add(time.Hour)

	p := Planner{}.Plan([]model.Event{newEarly, oldEarly}, []model.Event{oldEarlyDst}, w)

	assert.Equal(t, ReasonGraceNoCreate, opFor(t, p, "new").Reason)
	suppressed := opFor(t, p, "old")
	assert.Equal(t, OpSkip, suppressed.Kind)
	assert.Equal(t, ReasonGraceSuppressed, suppressed.Reason)
	assert.True(t, suppressed.Changes.Has(FieldSummary))
	assert.Empty(t, p.Notifications)

	// Exactly at the boundary is no longer in the grace period.
	atBoundary := model.Event{ExternalID: "edge", Summary: "Edge", Start: model.At(w.GraceBoundary)}
	p = Planner{}.Plan([]model.Event{atBoundary}, nil, w)
	assert.Equal(t, OpCreate, opFor(t, p, "edge").Kind)
}

func TestPlanDeletesMissingFutureEvents(t *testing.T) {
	dst := model.Event{ExternalID: "gone", Summary: "Gone", Start: utc(2024, 9, 15, 13, 0), DestinationRef: "r"}

	p := Planner{Formatter: NewFormatter(newYork(t))}.Plan(nil, []model.Event{dst}, testWindow())

	op := opFor(t, p, "gone")
	assert.Equal(t, OpDelete, op.Kind)
	assert.Equal(t, model.Ref("r"), op.Event.DestinationRef)
	assert.Equal(t, []string{"Deleting event: September 15, 2024 09:00 AM - Gone"}, p.Notifications)
}

func TestPlanSummaryNotifier(t *testing.T) {
	src := baseEvent()
	src.Start, src.End = utc(2024, 9, 10, 10, 0), utc(2024, 9, 10, 11, 0)
	src.Summary = "Tour (4 attendees)"
	dst := src
	dst.Summary = "Tour (3 attendees)"

	quiet := Planner{SummaryNotifier: func(before, after string) bool {
		return strings.SplitN(before, " (", 2)[0] != strings.SplitN(after, " (", 2)[0]
	}}

	p := quiet.Plan([]model.Event{src}, []model.Event{dst}, testWindow())
	assert.Equal(t, OpReplace, opFor(t, p, src.ExternalID).Kind)
	assert.Empty(t, p.Notifications)

	p = Planner{}.Plan([]model.Event{src}, []model.Event{dst}, testWindow())
	assert.Len(t, p.Notifications, 2)
}

func TestPlanReplacesUnreadableDestinationCopy(t *testing.T) {
	src := model.Event{ExternalID: "A", Summary: "Interview", Start: utc(2024, 9, 10, 10, 0), End: utc(2024, 9, 10, 11, 0)}
	// A destination event whose times could not be read carries no start.
	dst := model.Event{ExternalID: "A", Summary: "Interview", DestinationRef: "evt1"}

	p := Planner{}.Plan([]model.Event{src}, []model.Event{dst}, testWindow())

	op := opFor(t, p, "A")
	assert.Equal(t, OpReplace, op.Kind)
	assert.Equal(t, model.Ref("evt1"), op.Previous.DestinationRef)
	assert.Zero(t, p.Count(OpCreate))
}

func TestPlanMatchAnomalies(t *testing.T) {
	good := model.Event{ExternalID: "ok", Summary: "Ok", Start: utc(2024, 9, 10, 10, 0)}
	noID := model.Event{Summary: "No id", Start: utc(2024, 9, 10, 11, 0)}
	dup := good
	dup.Summary = "Ok again"

	p := Planner{}.Plan([]model.Event{good, noID, dup}, []model.Event{noID}, testWindow())

	assert.Equal(t, 1, p.Count(OpCreate))
	require.Len(t, p.Anomalies, 3)
	for _, a := range p.Anomalies {
		assert.True(t, IsMatchError(a))
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	var source, destination []model.Event
	for i, id := range []string{"e", "d", "c", "b", "a"} {
		start := utc(2024, 9, 10+i%2, 10, 0)
		source = append(source, model.Event{ExternalID: id, Summary: id, Start: start})
		destination = append(destination, model.Event{ExternalID: "x" + id, Summary: id, Start: start, DestinationRef: model.Ref(id)})
	}

	first := Planner{}.Plan(source, destination, testWindow())
	for i := 0; i < 10; i++ {
		again := Planner{}.Plan(source, destination, testWindow())
		assert.Equal(t, first.String(), again.String())
	}
}

func TestPlanReportGolden(t *testing.T) {
	onCampus := model.CategoryOnCampus

	source := []model.Event{
		{ExternalID: "A", Summary: "Interview", Location: "Admissions Hall", Start: utc(2024, 9, 10, 14, 0), Category: onCampus},
		{ExternalID: "B", Summary: "Open House", Location: "Admissions Hall", Start: model.OnDate(2024, 9, 12), Category: onCampus},
		{ExternalID: "D", Summary: "Campus Tour", Start: utc(2024, 9, 4, 15, 0), End: utc(2024, 9, 4, 16, 0)},
		{ExternalID: "E", Summary: "Info Session", Start: utc(2024, 9, 20, 18, 0), End: utc(2024, 9, 20, 19, 0)},
	}
	destination := []model.Event{
		{ExternalID: "B", Summary: "Open House", Location: "Admissions Hall Room 2", Start: model.OnDate(2024, 9, 12), End: model.OnDate(2024, 9, 12), Category: onCampus, DestinationRef: "b"},
		{ExternalID: "C", Summary: "Overnight", Start: utc(2024, 9, 4, 13, 0), End: utc(2024, 9, 4, 14, 0), DestinationRef: "c"},
		{ExternalID: "D", Summary: "Campus Tour (old)", Start: utc(2024, 9, 4, 15, 0), End: utc(2024, 9, 4, 16, 0), DestinationRef: "d"},
		{ExternalID: "E", Summary: "Info Session", Start: utc(2024, 9, 20, 17, 0), End: utc(2024, 9, 20, 18, 0), DestinationRef: "e"},
		{ExternalID: "F", Summary: "Old Event", Start: utc(2024, 9, 15, 13, 0), End: utc(2024, 9, 15, 14, 0), DestinationRef: "f"},
	}

	p := Planner{Formatter: NewFormatter(newYork(t))}.Plan(source, destination, testWindow())

	g := goldie.New(t)
	g.Assert(t, "plan_report", []byte(p.String()))
}
