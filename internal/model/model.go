package model

import (
	"fmt"
	"time"
)

// MomentKind tags the variant held by a Moment.
type MomentKind uint8

const (
	// Absent means the feed did not provide a value. Only valid for ends.
	Absent MomentKind = iota
	// Instant is a timezone-resolved point in time, stored in UTC.
	Instant
	// CivilDate is a date without time of day (all-day events).
	CivilDate
)

func (k MomentKind) String() string {
	switch k {
	case Instant:
		return "instant"
	case CivilDate:
		return "date"
	default:
		return "absent"
	}
}

// Moment is the start or end of an event: an Instant, a CivilDate, or Absent.
// The zero value is Absent.
type Moment struct {
	kind MomentKind
	// t is the UTC instant, or midnight UTC of the civil date.
	t time.Time
}

// At returns an Instant moment. The offset of t is discarded.
func At(t time.Time) Moment {
	return Moment{kind: Instant, t: t.UTC()}
}

// OnDate returns a CivilDate moment.
func OnDate(year int, month time.Month, day int) Moment {
	return Moment{kind: CivilDate, t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the CivilDate whose calendar fields match t in t's own location.
func DateOf(t time.Time) Moment {
	y, m, d := t.Date()
	return OnDate(y, m, d)
}

// ParseDate parses a YYYY-MM-DD civil date.
func ParseDate(s string) (Moment, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Moment{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (m Moment) Kind() MomentKind { return m.kind }

func (m Moment) IsAbsent() bool  { return m.kind == Absent }
func (m Moment) IsInstant() bool { return m.kind == Instant }
func (m Moment) IsDate() bool    { return m.kind == CivilDate }

// Time returns the instant for an Instant moment, midnight UTC for a
// CivilDate, and the zero time for Absent.
func (m Moment) Time() time.Time {
	return m.t
}

// Equal reports whether both moments hold the same variant and value.
func (m Moment) Equal(o Moment) bool {
	if m.kind != o.kind {
		return false
	}
	if m.kind == Absent {
		return true
	}
	return m.t.Equal(o.t)
}

// Before compares the instants of two present moments. Civil dates compare
// as their midnight-UTC instant.
func (m Moment) Before(o Moment) bool {
	return m.t.Before(o.t)
}

// Add returns an Instant moment d after m. Civil dates are promoted to
// their midnight-UTC instant first.
func (m Moment) Add(d time.Duration) Moment {
	return At(m.t.Add(d))
}

func (m Moment) String() string {
	switch m.kind {
	case Instant:
		return m.t.Format(time.RFC3339)
	case CivilDate:
		return m.t.Format(time.DateOnly)
	default:
		return "<absent>"
	}
}

// Category is the presentation class of an event, derived from its location.
type Category uint8

const (
	CategoryOther Category = iota
	CategoryOnCampus
)

func (c Category) String() string {
	if c == CategoryOnCampus {
		return "on-campus"
	}
	return "other"
}

// Ref is an opaque destination handle. Only the destination adapter that
// produced it interprets its contents.
type Ref string

// Event is the canonical, adapter-normalized record of one calendar entry.
// Values are treated as immutable once an adapter returns them.
type Event struct {
	// ExternalID is the key shared by the source feed and the destination.
	ExternalID string

	Summary     string
	Location    string
	Description string

	Start Moment
	End   Moment

	Category Category

	// DestinationRef is set only on destination-side events.
	DestinationRef Ref
}

func (e Event) String() string {
	return fmt.Sprintf("<%s %q @ %s..%s [%s]>", e.ExternalID, e.Summary, e.Start, e.End, e.Category)
}

// Calendar is one registered destination calendar and the feed that fills it.
type Calendar struct {
	// ID is the destination account address, e.g. the Google account email.
	ID string `json:"id"`
	// FeedURL is the source feed endpoint for this calendar.
	FeedURL string `json:"feed_url"`
	// FeedFormat is "ics" or "json". Empty means detect from the payload.
	FeedFormat string `json:"feed_format,omitempty"`

	// Color overrides applied per category. Empty means no override.
	OnCampusColor string `json:"on_campus_color,omitempty"`
	OtherColor    string `json:"other_color,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ColorFor returns the color override configured for c.
func (cal Calendar) ColorFor(c Category) string {
	if c == CategoryOnCampus {
		return cal.OnCampusColor
	}
	return cal.OtherColor
}
