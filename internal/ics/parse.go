package ics

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calsync/internal/log"
)

// ParsedEvent is one VEVENT as read from the feed. Recurrence expansion
// operates on this type.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string
	Status      string

	// Start carries the event's own location so recurrences expand across
	// DST transitions correctly. End is zero when DTEND is missing.
	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, set on overrides only
}

// HasEnd reports whether the VEVENT carried a DTEND.
func (e ParsedEvent) HasEnd() bool { return !e.End.IsZero() }

// Confirmed reports whether the event should be synced at all. Feeds that
// omit STATUS are treated as confirmed.
func (e ParsedEvent) Confirmed() bool {
	return e.Status == "" || strings.EqualFold(e.Status, "CONFIRMED")
}

// Parse parses an ICS payload into a list of ParsedEvent. VEVENTs that
// cannot be read are logged and skipped.
func Parse(body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse ics: %w", err)
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "err", perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = unescapeText(strings.TrimSpace(uidProp.Value))

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = html.UnescapeString(unescapeText(p.Value))
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = unescapeText(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Status = strings.TrimSpace(p.Value)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("event %s: missing DTSTART", out.UID)
	}
	start, allDay, err := parseTimeProp(dtStart.Value, dtStart.ICalParameters)
	if err != nil {
		return out, fmt.Errorf("event %s: DTSTART: %w", out.UID, err)
	}
	out.Start = start
	out.AllDay = allDay

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, _, err := parseTimeProp(dtEnd.Value, dtEnd.ICalParameters)
		if err != nil {
			appLog.Warn("ics DTEND unreadable, treating as absent", "uid", out.UID, "err", err)
		} else {
			out.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parseTimeProp(part, p.ICalParameters); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		if t, _, err := parseTimeProp(rid.Value, rid.ICalParameters); err == nil {
			out.Recurrence = &t
		}
	}

	return out, nil
}

const (
	layoutDate    = "20060102"
	layoutLocal   = "20060102T150405"
	layoutUTCTime = "20060102T150405Z"
)

// parseTimeProp reads a DATE or DATE-TIME value. Dates come back as midnight
// UTC with allDay set. A trailing Z means UTC, a TZID parameter is resolved
// through the IANA database, and floating times are taken as UTC.
func parseTimeProp(value string, params map[string][]string) (time.Time, bool, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if paramIs(params, "VALUE", "DATE") || !strings.Contains(v, "T") {
		t, err := time.ParseInLocation(layoutDate, v[:min(len(v), len(layoutDate))], time.UTC)
		return t, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutUTCTime, v)
		return t, false, err
	}

	loc := time.UTC
	if tzid := param(params, "TZID"); tzid != "" {
		l, err := time.LoadLocation(strings.Trim(tzid, `"`))
		if err != nil {
			appLog.Warn("ics unknown TZID, using UTC", "tzid", tzid)
		} else {
			loc = l
		}
	}
	t, err := time.ParseInLocation(layoutLocal, v, loc)
	return t, false, err
}

func param(params map[string][]string, key string) string {
	if params == nil {
		return ""
	}
	if vs := params[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func paramIs(params map[string][]string, key, want string) bool {
	return strings.EqualFold(param(params, key), want)
}

var textUnescaper = strings.NewReplacer(
	`\\`, `\`,
	`\,`, `,`,
	`\;`, `;`,
	`\n`, "\n",
	`\N`, "\n",
)

// unescapeText removes RFC 5545 TEXT escapes.
func unescapeText(s string) string {
	return textUnescaper.Replace(s)
}
