package reconcile

import (
	"time"

	"calsync/internal/model"
)

const (
	dateLayout     = "January 02, 2006"
	dateTimeLayout = "January 02, 2006 03:04 PM"
)

// Formatter renders notification lines. Instants are shown in a fixed
// display timezone; civil dates have no time-of-day component.
type Formatter struct {
	loc *time.Location
}

// NewFormatter returns a Formatter for loc. A nil loc means UTC.
func NewFormatter(loc *time.Location) Formatter {
	if loc == nil {
		loc = time.UTC
	}
	return Formatter{loc: loc}
}

// When formats the start or end of an event for humans.
func (f Formatter) When(m model.Moment) string {
	switch m.Kind() {
	case model.CivilDate:
		return m.Time().Format(dateLayout)
	case model.Instant:
		loc := f.loc
		if loc == nil {
			loc = time.UTC
		}
		return m.Time().In(loc).Format(dateTimeLayout)
	default:
		return ""
	}
}

func (f Formatter) Adding(e model.Event) string {
	return "Adding event: " + f.When(e.Start) + " - " + e.Summary
}

func (f Formatter) Deleting(e model.Event) string {
	return "Deleting event: " + f.When(e.Start) + " - " + e.Summary
}
