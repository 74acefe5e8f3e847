// Package gcal is the Google Calendar destination adapter. Only events that
// carry the private SlateID extended property are read or touched.
package gcal

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/reconcile"
)

// SlateIDKey is the private extended property holding the external id.
const SlateIDKey = "SlateID"

const (
	defaultCalendarID = "primary"
	defaultBackoff    = 2 * time.Second
	// listPadding widens the listing past the window end; see Events.
	listPadding = 24 * time.Hour
)

// RateLimitError is returned when Google still throttles after one retry.
type RateLimitError struct {
	Op  string
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("google calendar %s: rate limited: %v", e.Op, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// IsRateLimit reports whether err is or wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

// Options configures a Client.
type Options struct {
	// Calendar supplies the color palette.
	Calendar model.Calendar
	// OnCampusPrefix is used to recover categories from colors.
	OnCampusPrefix string
	// CalendarID defaults to the account's primary calendar.
	CalendarID string
	// Backoff is the pause before the single rate-limit retry.
	Backoff time.Duration
}

// Client reads and writes one Google calendar. It implements
// reconcile.Executor.
type Client struct {
	svc  *calendar.Service
	opts Options
}

// New builds a Client. clientOpts typically carry option.WithHTTPClient
// with an OAuth-authorized client.
func New(ctx context.Context, opts Options, clientOpts ...option.ClientOption) (*Client, error) {
	if opts.CalendarID == "" {
		opts.CalendarID = defaultCalendarID
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	svc, err := calendar.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar client: %w", err)
	}
	return &Client{svc: svc, opts: opts}, nil
}

// Events returns the managed events starting in w, end inclusive. Google
// treats timeMax as exclusive and bounds all-day events in the calendar's
// own timezone, so the listing runs a day past w.End and is filtered here.
// Duplicate SlateIDs are deleted on sight; the first one (by start time) is
// kept. An event whose times cannot be read is returned with an Absent
// start so the planner replaces it instead of creating a second copy.
func (c *Client) Events(ctx context.Context, w reconcile.Window) ([]model.Event, error) {
	items, err := c.list(ctx, w.Begin, w.End.Add(listPadding))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]model.Event, 0, len(items))
	for _, it := range items {
		slateID := slateIDOf(it)
		if _, dup := seen[slateID]; dup {
			appLog.Warn("duplicate managed event, deleting", "calendar", c.opts.Calendar.ID, "external_id", slateID, "ref", it.Id)
			if err := c.Delete(ctx, model.Ref(it.Id)); err != nil {
				appLog.Error("duplicate delete failed", err, "calendar", c.opts.Calendar.ID, "ref", it.Id)
			}
			continue
		}
		seen[slateID] = struct{}{}

		ev, err := c.toModel(it)
		if err != nil {
			appLog.Warn("destination event unreadable, will be replaced", "calendar", c.opts.Calendar.ID, "ref", it.Id, "err", err)
			out = append(out, model.Event{
				ExternalID:     slateID,
				Summary:        it.Summary,
				Location:       it.Location,
				Description:    it.Description,
				Category:       c.categoryOf(it),
				DestinationRef: model.Ref(it.Id),
			})
			continue
		}
		if !w.Contains(ev.Start) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// list returns every managed event starting between begin and end.
func (c *Client) list(ctx context.Context, begin, end time.Time) ([]*calendar.Event, error) {
	var items []*calendar.Event
	call := c.svc.Events.List(c.opts.CalendarID).
		TimeMin(begin.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		ShowDeleted(false)

	err := c.retry(ctx, "list", func() error {
		items = items[:0]
		return call.Pages(ctx, func(page *calendar.Events) error {
			for _, it := range page.Items {
				if slateIDOf(it) != "" {
					items = append(items, it)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Create inserts e. Its end must already be the effective end.
func (c *Client) Create(ctx context.Context, e model.Event) error {
	body := &calendar.Event{
		Summary:     e.Summary,
		Description: e.Description,
		Location:    e.Location,
		Start:       toEventDateTime(e.Start, false),
		End:         toEventDateTime(endOrStart(e), true),
		ColorId:     c.opts.Calendar.ColorFor(e.Category),
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{SlateIDKey: e.ExternalID},
		},
	}
	return c.retry(ctx, "insert", func() error {
		_, err := c.svc.Events.Insert(c.opts.CalendarID, body).Context(ctx).Do()
		return err
	})
}

// Delete removes the event ref. An event that is already gone counts as
// deleted.
func (c *Client) Delete(ctx context.Context, ref model.Ref) error {
	err := c.retry(ctx, "delete", func() error {
		return c.svc.Events.Delete(c.opts.CalendarID, string(ref)).Context(ctx).Do()
	})
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusGone || gerr.Code == http.StatusNotFound) {
		appLog.Debug("event already deleted", "calendar", c.opts.Calendar.ID, "ref", ref)
		return nil
	}
	return err
}

// Clear deletes every managed event starting between begin and end and
// returns how many were removed.
func (c *Client) Clear(ctx context.Context, begin, end time.Time) (int, error) {
	items, err := c.list(ctx, begin, end)
	if err != nil {
		return 0, err
	}
	var errs []error
	n := 0
	for _, it := range items {
		if err := c.Delete(ctx, model.Ref(it.Id)); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", it.Id, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Color is one entry of the event color palette.
type Color struct {
	ID         string
	Background string
	Foreground string
}

// Colors returns the event color palette.
func (c *Client) Colors(ctx context.Context) ([]Color, error) {
	var res *calendar.Colors
	err := c.retry(ctx, "colors", func() error {
		var err error
		res, err = c.svc.Colors.Get().Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]Color, 0, len(res.Event))
	for id, def := range res.Event {
		out = append(out, Color{ID: id, Background: def.Background, Foreground: def.Foreground})
	}
	slices.SortFunc(out, func(a, b Color) int {
		if n := cmp.Compare(len(a.ID), len(b.ID)); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// retry runs fn and, when Google signals rate limiting, waits once and
// runs it again.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if !isRateLimited(err) {
		return err
	}
	appLog.Warn("google rate limited, backing off", "op", op, "backoff", c.opts.Backoff)

	t := time.NewTimer(c.opts.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	if err := fn(); err != nil {
		if isRateLimited(err) {
			return &RateLimitError{Op: op, Err: err}
		}
		return err
	}
	return nil
}

func isRateLimited(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusTooManyRequests {
		return true
	}
	if gerr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}

func slateIDOf(it *calendar.Event) string {
	if it == nil || it.ExtendedProperties == nil || it.ExtendedProperties.Private == nil {
		return ""
	}
	return it.ExtendedProperties.Private[SlateIDKey]
}

func (c *Client) toModel(it *calendar.Event) (model.Event, error) {
	start, err := fromEventDateTime(it.Start, false)
	if err != nil {
		return model.Event{}, fmt.Errorf("start: %w", err)
	}
	end, err := fromEventDateTime(it.End, true)
	if err != nil {
		return model.Event{}, fmt.Errorf("end: %w", err)
	}
	return model.Event{
		ExternalID:     slateIDOf(it),
		Summary:        it.Summary,
		Location:       it.Location,
		Description:    it.Description,
		Start:          start,
		End:            end,
		Category:       c.categoryOf(it),
		DestinationRef: model.Ref(it.Id),
	}, nil
}

// categoryOf recovers the category from the event color. The location
// decides which category is expected; any other color reports the other
// category, so a stale or hand-edited color shows up as a change.
func (c *Client) categoryOf(it *calendar.Event) model.Category {
	expected := reconcile.Classify(it.Location, c.opts.OnCampusPrefix)
	if c.opts.Calendar.ColorFor(expected) == it.ColorId {
		return expected
	}
	other := model.CategoryOther
	if expected == model.CategoryOther {
		other = model.CategoryOnCampus
	}
	return other
}

func endOrStart(e model.Event) model.Moment {
	if e.End.IsAbsent() {
		return e.Start
	}
	return e.End
}

// Google all-day ends are exclusive; canonical civil-date ends are the
// last covered day.
func toEventDateTime(m model.Moment, isEnd bool) *calendar.EventDateTime {
	if m.IsDate() {
		d := m.Time()
		if isEnd {
			d = d.AddDate(0, 0, 1)
		}
		return &calendar.EventDateTime{Date: d.Format(time.DateOnly)}
	}
	return &calendar.EventDateTime{DateTime: m.Time().Format(time.RFC3339), TimeZone: "UTC"}
}

func fromEventDateTime(dt *calendar.EventDateTime, isEnd bool) (model.Moment, error) {
	switch {
	case dt == nil:
		if isEnd {
			return model.Moment{}, nil
		}
		return model.Moment{}, errors.New("missing")
	case dt.DateTime != "":
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return model.Moment{}, err
		}
		return model.At(t), nil
	case dt.Date != "":
		m, err := model.ParseDate(dt.Date)
		if err != nil || !isEnd {
			return m, err
		}
		return model.DateOf(m.Time().AddDate(0, 0, -1)), nil
	default:
		if isEnd {
			return model.Moment{}, nil
		}
		return model.Moment{}, errors.New("empty")
	}
}
