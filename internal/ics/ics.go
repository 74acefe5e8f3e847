// Package ics reads iCalendar feeds into canonical events.
package ics

import (
	"time"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

// Decode parses an ICS payload, drops events whose STATUS is not CONFIRMED,
// and expands recurrences between begin and end.
func Decode(body []byte, begin, end time.Time) ([]model.Event, error) {
	parsed, err := Parse(body)
	if err != nil {
		return nil, err
	}

	kept := parsed[:0]
	for _, ev := range parsed {
		if !ev.Confirmed() {
			appLog.Debug("ics event not confirmed, skipping", "uid", ev.UID, "status", ev.Status)
			continue
		}
		kept = append(kept, ev)
	}

	return Expand(kept, ExpandConfig{RangeStart: begin, RangeEnd: end})
}
