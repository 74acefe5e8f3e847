// Package source turns a calendar's Slate feed into the source snapshot the
// planner consumes.
package source

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"calsync/internal/ics"
	"calsync/internal/jsonfeed"
	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/reconcile"
)

// Feed formats accepted in model.Calendar.FeedFormat.
const (
	FormatICS  = "ics"
	FormatJSON = "json"
)

// Slate publishes unassigned interview slots under this summary. They are
// synced as tentative and never once their day has come.
const (
	unassignedInterview = "On Campus Interview"
	potentialInterview  = "Potential " + unassignedInterview
)

// Adapter reads Slate feeds.
type Adapter struct {
	fetcher *ics.Fetcher
	loc     *time.Location
	now     func() time.Time
}

// New returns an Adapter fetching through f. loc decides what "today" means
// for unassigned interview slots; nil means UTC.
func New(f *ics.Fetcher, loc *time.Location) *Adapter {
	if loc == nil {
		loc = time.UTC
	}
	return &Adapter{fetcher: f, loc: loc, now: time.Now}
}

// Events fetches cal's feed and returns the normalized events whose start
// lies in w. Categories are not assigned here.
func (a *Adapter) Events(ctx context.Context, cal model.Calendar, w reconcile.Window) ([]model.Event, error) {
	res, err := a.fetcher.Fetch(ctx, cal.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", ics.RedactURL(cal.FeedURL), err)
	}

	var events []model.Event
	switch format := detectFormat(cal.FeedFormat, res); format {
	case FormatJSON:
		events, err = jsonfeed.Decode(res.Body)
	case FormatICS:
		events, err = ics.Decode(res.Body, w.Begin, w.End)
	default:
		err = fmt.Errorf("unknown feed format %q", format)
	}
	if err != nil {
		return nil, err
	}

	out := a.normalize(events, w)
	appLog.Info("source events read", "calendar", cal.ID, "count", len(out), "from_cache", res.FromCache)
	return out, nil
}

func detectFormat(configured string, res ics.FetchResult) string {
	if configured != "" {
		return strings.ToLower(configured)
	}
	if strings.Contains(res.ContentType, "json") {
		return FormatJSON
	}
	if bytes.HasPrefix(bytes.TrimSpace(res.Body), []byte("{")) {
		return FormatJSON
	}
	return FormatICS
}

// normalize applies the rules shared by every feed format: window
// filtering, unassigned interview handling, and first-wins deduplication.
func (a *Adapter) normalize(events []model.Event, w reconcile.Window) []model.Event {
	today := model.DateOf(a.now().In(a.loc))

	seen := make(map[string]struct{}, len(events))
	out := make([]model.Event, 0, len(events))
	for _, e := range events {
		if !w.Contains(e.Start) {
			appLog.Debug("source event not in window", "external_id", e.ExternalID, "start", e.Start, "window", w)
			continue
		}
		if e.Summary == unassignedInterview {
			if !today.Before(a.dateOf(e.Start)) {
				continue
			}
			e.Summary = potentialInterview
		}
		if _, dup := seen[e.ExternalID]; dup {
			appLog.Warn("duplicate source event, keeping the first", "external_id", e.ExternalID)
			continue
		}
		seen[e.ExternalID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func (a *Adapter) dateOf(m model.Moment) model.Moment {
	if m.IsDate() {
		return m
	}
	return model.DateOf(m.Time().In(a.loc))
}

var attendeeCount = regexp.MustCompile(`\s*\(\d+\s+attendees?\)\s*$`)

// SummaryNotifier reports whether a summary change is worth telling the
// calendar owner about. Slate appends a live attendee count to group
// events; a change in that count alone is not announced.
func SummaryNotifier(before, after string) bool {
	return attendeeCount.ReplaceAllString(before, "") != attendeeCount.ReplaceAllString(after, "")
}
