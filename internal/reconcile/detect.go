package reconcile

import (
	"strings"
	"time"

	"calsync/internal/model"
)

// DefaultDuration is the length assumed for timed events whose end is
// missing or unusable.
const DefaultDuration = time.Hour

// Field identifies one compared attribute of an event.
type Field uint8

const (
	FieldSummary Field = 1 << iota
	FieldLocation
	FieldDescription
	FieldStart
	FieldCategory
	FieldEnd
)

var fieldNames = []struct {
	f    Field
	name string
}{
	{FieldSummary, "Summary"},
	{FieldLocation, "Location"},
	{FieldDescription, "Description"},
	{FieldStart, "Start"},
	{FieldCategory, "Category"},
	{FieldEnd, "End"},
}

func (f Field) String() string {
	for _, fn := range fieldNames {
		if fn.f == f {
			return fn.name
		}
	}
	return "Unknown"
}

// FieldSet is a set of changed fields.
type FieldSet uint8

func (s FieldSet) Has(f Field) bool { return s&FieldSet(f) != 0 }

func (s FieldSet) With(f Field) FieldSet { return s | FieldSet(f) }

func (s FieldSet) Empty() bool { return s == 0 }

// Fields lists the members in declaration order.
func (s FieldSet) Fields() []Field {
	out := make([]Field, 0, len(fieldNames))
	for _, fn := range fieldNames {
		if s.Has(fn.f) {
			out = append(out, fn.f)
		}
	}
	return out
}

func (s FieldSet) String() string {
	names := make([]string, 0, len(fieldNames))
	for _, f := range s.Fields() {
		names = append(names, f.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

// Verdict is the outcome of comparing a matched source/destination pair.
type Verdict struct {
	Changed FieldSet
}

func (v Verdict) Unchanged() bool { return v.Changed.Empty() }

// Compare checks a source event against the destination event sharing its
// external id. Destination values are expected to be normalized into the
// canonical union by the destination adapter, so plain equality is used for
// everything except the end, which follows the inference rules in endChanged.
func Compare(src, dst model.Event) Verdict {
	var changed FieldSet
	if src.Summary != dst.Summary {
		changed = changed.With(FieldSummary)
	}
	if src.Location != dst.Location {
		changed = changed.With(FieldLocation)
	}
	if src.Description != dst.Description {
		changed = changed.With(FieldDescription)
	}
	if !src.Start.Equal(dst.Start) {
		changed = changed.With(FieldStart)
	}
	if src.Category != dst.Category {
		changed = changed.With(FieldCategory)
	}
	if endChanged(src, dst) {
		changed = changed.With(FieldEnd)
	}
	return Verdict{Changed: changed}
}

// endChanged evaluates the end-time rules in priority order; the first rule
// that applies decides.
func endChanged(src, dst model.Event) bool {
	inferred := inferredEnd(src.Start)

	switch {
	// All-day event without an end: the destination end must equal the start.
	case src.Start.IsDate() && src.End.IsAbsent():
		return !dst.End.Equal(src.Start)

	// Timed start with a date-only end: the planner writes start+1h.
	case src.Start.IsInstant() && src.End.IsDate() && dst.End.Equal(inferred):
		return false

	case src.End.IsAbsent() && dst.End.Equal(inferred):
		return false

	case src.End.IsAbsent() && !dst.End.IsAbsent():
		return true

	// Ends before it starts: the planner corrected it to start+1h, or to
	// the start day for all-day events.
	case !src.End.IsAbsent() && src.End.Before(src.Start) && dst.End.Equal(inferred):
		return false

	default:
		return !dst.End.Equal(src.End)
	}
}

// EffectiveEnd is the end the planner writes when it creates src.
// The second return value is false when the combination could not be
// corrected (date start with a timed end) and is passed through as-is.
func EffectiveEnd(src model.Event) (model.Moment, bool) {
	switch {
	case src.Start.IsDate() && src.End.IsAbsent():
		return src.Start, true
	case src.Start.IsInstant() && src.End.IsDate():
		return src.Start.Add(DefaultDuration), true
	case src.Start.IsInstant() && src.End.IsAbsent():
		return src.Start.Add(DefaultDuration), true
	case src.Start.IsDate() && src.End.IsInstant():
		return src.End, false
	case src.End.Before(src.Start):
		return inferredEnd(src.Start), true
	default:
		return src.End, true
	}
}

// inferredEnd is start+1h for a timed start. A civil date has no time of
// day, so an all-day event ends on its start day.
func inferredEnd(start model.Moment) model.Moment {
	if start.IsDate() {
		return start
	}
	return start.Add(DefaultDuration)
}
