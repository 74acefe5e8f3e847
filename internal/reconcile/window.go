package reconcile

import (
	"time"

	"calsync/internal/model"
)

// Window is the span of time one pass reconciles, plus the grace boundary
// before which existing destination events are frozen.
type Window struct {
	Begin         time.Time
	End           time.Time
	GraceBoundary time.Time
}

// ComputeWindow derives the sync window from now and the configured day
// offsets. All three bounds are truncated to midnight UTC.
func ComputeWindow(now time.Time, pastDays, futureDays int) Window {
	now = now.UTC()
	return Window{
		Begin:         midnightUTC(now.AddDate(0, 0, -pastDays)),
		End:           midnightUTC(now.AddDate(0, 0, futureDays)),
		GraceBoundary: midnightUTC(now.AddDate(0, 0, -(pastDays - 1))),
	}
}

// InGracePeriod reports whether start lies strictly before the grace
// boundary. Civil dates compare as their midnight-UTC instant.
func (w Window) InGracePeriod(start model.Moment) bool {
	return start.Time().Before(w.GraceBoundary)
}

// Contains reports whether m lies within [Begin, End], inclusive.
func (w Window) Contains(m model.Moment) bool {
	t := m.Time()
	return !t.Before(w.Begin) && !t.After(w.End)
}

func (w Window) String() string {
	return "[" + w.Begin.Format(time.RFC3339) + ", " + w.End.Format(time.RFC3339) + "] grace=" + w.GraceBoundary.Format(time.RFC3339)
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
