package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/model"
)

func feed(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Technolutions//Slate//EN\r\n")
	for _, e := range events {
		b.WriteString("BEGIN:VEVENT\r\n")
		b.WriteString(strings.ReplaceAll(strings.TrimSpace(e), "\n", "\r\n"))
		b.WriteString("\r\nEND:VEVENT\r\n")
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

var (
	rangeStart = time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	rangeEnd   = time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
)

func byID(t *testing.T, events []model.Event) map[string]model.Event {
	t.Helper()
	out := make(map[string]model.Event, len(events))
	for _, e := range events {
		out[e.ExternalID] = e
	}
	return out
}

func TestDecodeTimedAndDateEvents(t *testing.T) {
	body := feed(`
UID:utc-1
SUMMARY:Campus Tour &amp; Info Session
LOCATION:Admissions Hall\, Room 1
DESCRIPTION:Meet at the front desk\nBring ID
STATUS:CONFIRMED
DTSTART:20240910T140000Z
DTEND:20240910T150000Z`, `
UID:tz-1
SUMMARY:Interview
DTSTART;TZID=America/New_York:20240911T090000
DTEND;TZID=America/New_York:20240911T093000`, `
UID:date-1
SUMMARY:Open House
DTSTART;VALUE=DATE:20240912
DTEND;VALUE=DATE:20240914`, `
UID:noend-1
SUMMARY:Drop In
DTSTART;VALUE=DATE:20240915`, `
UID:floating-1
SUMMARY:Floating
DTSTART:20240916T100000`)

	events, err := Decode(body, rangeStart, rangeEnd)
	require.NoError(t, err)
	got := byID(t, events)
	require.Len(t, got, 5)

	utc := got["utc-1"]
	assert.Equal(t, "Campus Tour & Info Session", utc.Summary)
	assert.Equal(t, "Admissions Hall, Room 1", utc.Location)
	assert.Equal(t, "Meet at the front desk\nBring ID", utc.Description)
	assert.True(t, utc.Start.Equal(model.At(time.Date(2024, 9, 10, 14, 0, 0, 0, time.UTC))))
	assert.True(t, utc.End.Equal(model.At(time.Date(2024, 9, 10, 15, 0, 0, 0, time.UTC))))

	tz := got["tz-1"]
	assert.True(t, tz.Start.Equal(model.At(time.Date(2024, 9, 11, 13, 0, 0, 0, time.UTC))), tz.Start.String())

	date := got["date-1"]
	assert.True(t, date.Start.Equal(model.OnDate(2024, 9, 12)))
	assert.True(t, date.End.Equal(model.OnDate(2024, 9, 13)), "exclusive DTEND becomes last covered day")

	assert.True(t, got["noend-1"].End.IsAbsent())
	assert.True(t, got["floating-1"].Start.Equal(model.At(time.Date(2024, 9, 16, 10, 0, 0, 0, time.UTC))))
}

func TestDecodeSingleDayDateEndClamps(t *testing.T) {
	body := feed(`
UID:same-day
DTSTART;VALUE=DATE:20240912
DTEND;VALUE=DATE:20240912`)

	events, err := Decode(body, rangeStart, rangeEnd)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].End.Equal(model.OnDate(2024, 9, 12)))
}

func TestDecodeDropsUnconfirmedAndBrokenEvents(t *testing.T) {
	body := feed(`
UID:cancelled
STATUS:CANCELLED
DTSTART:20240910T140000Z`, `
UID:tentative
STATUS:TENTATIVE
DTSTART:20240910T140000Z`, `
SUMMARY:no uid
DTSTART:20240910T140000Z`, `
UID:no-start
SUMMARY:No start`, `
UID:ok
STATUS:confirmed
DTSTART:20240910T140000Z`)

	events, err := Decode(body, rangeStart, rangeEnd)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].ExternalID)
}

func TestDecodeExpandsRecurrence(t *testing.T) {
	body := feed(`
UID:weekly
SUMMARY:Weekly Info Session
DTSTART;TZID=America/New_York:20240903T100000
DTEND;TZID=America/New_York:20240903T110000
RRULE:FREQ=WEEKLY;COUNT=10
EXDATE;TZID=America/New_York:20240910T100000`, `
UID:weekly
RECURRENCE-ID;TZID=America/New_York:20240917T100000
SUMMARY:Weekly Info Session (moved)
DTSTART;TZID=America/New_York:20240917T140000
DTEND;TZID=America/New_York:20240917T150000`)

	events, err := Decode(body, rangeStart, rangeEnd)
	require.NoError(t, err)
	got := byID(t, events)

	// Sep 3, 17, 24 are in range; Sep 10 is excluded.
	require.Len(t, got, 3)
	first, ok := got["weekly/2024-09-03T14:00:00Z"]
	require.True(t, ok, "instance ids use the UTC start")
	assert.True(t, first.End.Equal(model.At(time.Date(2024, 9, 3, 15, 0, 0, 0, time.UTC))))

	moved := got["weekly/2024-09-17T14:00:00Z"]
	assert.Equal(t, "Weekly Info Session (moved)", moved.Summary)
	assert.True(t, moved.Start.Equal(model.At(time.Date(2024, 9, 17, 18, 0, 0, 0, time.UTC))))

	_, excluded := got["weekly/2024-09-10T14:00:00Z"]
	assert.False(t, excluded)
}

func TestDecodeEmptyBody(t *testing.T) {
	_, err := Decode(nil, rangeStart, rangeEnd)
	assert.Error(t, err)
}
