package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// RangeStart / RangeEnd define the inclusive window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// Expand turns parsed VEVENTs into canonical events. Non-recurring events
// keep their UID as external id and are returned regardless of the range;
// each instance of a recurring event gets "UID/<start>" and only instances
// inside the range are produced. Overrides (RECURRENCE-ID) replace the
// instance they name.
func Expand(events []ParsedEvent, cfg ExpandConfig) ([]model.Event, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		}
	}

	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if ev.Recurrence != nil {
			continue
		}
		if ev.RawRRule == "" {
			out = append(out, toEvent(ev, ev.UID, ev.Start, ev.End))
			continue
		}
		out = append(out, expandRecurring(ev, overridesByUID[ev.UID], cfg)...)
	}
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("expand: failed to parse RRULE", "uid", ev.UID, "rrule", ev.RawRRule, "err", err)
		return nil
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	rangeStart := cfg.RangeStart.In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())
	occTimes := set.Between(rangeStart, rangeEnd, true)

	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		appLog.Warn("expand: truncated occurrences for UID due to cap",
			"uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
	}

	out := make([]model.Event, 0, len(occTimes))
	for _, occStart := range occTimes {
		var occEnd time.Time
		if ev.HasEnd() {
			occEnd = occStart.Add(ev.End.Sub(ev.Start))
		}
		id := instanceID(ev.UID, occStart, ev.AllDay)

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			out = append(out, toEvent(o, id, o.Start, o.End))
			continue
		}
		out = append(out, toEvent(ev, id, occStart, occEnd))
	}
	return out
}

func instanceID(uid string, start time.Time, allDay bool) string {
	if allDay {
		return uid + "/" + start.Format(time.DateOnly)
	}
	return uid + "/" + start.UTC().Format(time.RFC3339)
}

// findOverrideForStart finds an override whose RECURRENCE-ID names the
// instance starting at occStart.
func findOverrideForStart(overrides []ParsedEvent, occStart time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(occStart) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// toEvent converts one (possibly expanded) VEVENT into a canonical event.
// An all-day DTEND is exclusive in ICS; the canonical civil-date end is the
// last day the event covers.
func toEvent(ev ParsedEvent, id string, start, end time.Time) model.Event {
	out := model.Event{
		ExternalID:  id,
		Summary:     ev.Summary,
		Location:    ev.Location,
		Description: ev.Description,
	}

	if ev.AllDay {
		out.Start = model.DateOf(start)
		if !end.IsZero() {
			last := end.AddDate(0, 0, -1)
			if last.Before(start) {
				last = start
			}
			out.End = model.DateOf(last)
		}
		return out
	}

	out.Start = model.At(start)
	if !end.IsZero() {
		out.End = model.At(end)
	}
	return out
}
