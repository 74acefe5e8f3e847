// Package syncer runs one reconciliation tick over every registered
// calendar.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"calsync/internal/config"
	"calsync/internal/gcal"
	"calsync/internal/googleauth"
	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/reconcile"
	"calsync/internal/source"
)

// Registry lists the calendars to sync.
type Registry interface {
	List() ([]model.Calendar, error)
	Get(id string) (model.Calendar, error)
}

// Sources yields the source snapshot of one calendar.
type Sources interface {
	Events(ctx context.Context, cal model.Calendar, w reconcile.Window) ([]model.Event, error)
}

// Destination is one writable destination calendar.
type Destination interface {
	reconcile.Executor
	Events(ctx context.Context, w reconcile.Window) ([]model.Event, error)
}

// DestinationFunc opens the destination calendar of cal.
type DestinationFunc func(ctx context.Context, cal model.Calendar) (Destination, error)

// Notifier receives change lists and the error digest.
type Notifier interface {
	CalendarChanged(calendarID string, lines []string) error
	SyncErrors(tickID string, lines []string) error
}

// GoogleDestinations opens Google calendars with credentials from creds.
func GoogleDestinations(creds *googleauth.Manager, onCampusPrefix string, apiOpts ...option.ClientOption) DestinationFunc {
	return func(ctx context.Context, cal model.Calendar) (Destination, error) {
		hc, err := creds.Client(ctx, cal.ID)
		if err != nil {
			return nil, err
		}
		opts := append([]option.ClientOption{option.WithHTTPClient(hc)}, apiOpts...)
		c, err := gcal.New(ctx, gcal.Options{Calendar: cal, OnCampusPrefix: onCampusPrefix}, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Syncer runs ticks.
type Syncer struct {
	cfg          *config.Config
	registry     Registry
	sources      Sources
	destinations DestinationFunc
	notifier     Notifier
	now          func() time.Time
}

// New returns a Syncer.
func New(cfg *config.Config, registry Registry, sources Sources, destinations DestinationFunc, notifier Notifier) *Syncer {
	return &Syncer{
		cfg:          cfg,
		registry:     registry,
		sources:      sources,
		destinations: destinations,
		notifier:     notifier,
		now:          time.Now,
	}
}

// Report is the outcome of one tick.
type Report struct {
	TickID    string
	Calendars map[string]reconcile.Result
	Errors    []string
}

// Tick syncs every registered calendar, or only the one named by only when
// it is non-empty. Per-calendar failures go to the error digest; the
// returned error is reserved for failures that stop the whole tick.
func (s *Syncer) Tick(ctx context.Context, only string) (*Report, error) {
	rep := &Report{TickID: uuid.NewString(), Calendars: map[string]reconcile.Result{}}
	start := s.now()
	appLog.Info("sync tick started", "tick_id", rep.TickID)

	cals, err := s.calendars(only)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	errs := make(map[string][]string, len(cals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.Sync.Concurrency, 1))
	for _, cal := range cals {
		cal := cal
		g.Go(func() error {
			res, calErrs := s.syncCalendar(gctx, cal)
			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				rep.Calendars[cal.ID] = *res
			}
			errs[cal.ID] = calErrs
			return nil
		})
	}
	_ = g.Wait()

	// Digest lines follow registry order regardless of completion order.
	for _, cal := range cals {
		rep.Errors = append(rep.Errors, errs[cal.ID]...)
	}
	if len(rep.Errors) > 0 {
		if err := s.notifier.SyncErrors(rep.TickID, rep.Errors); err != nil {
			appLog.Error("error digest not delivered", err, "tick_id", rep.TickID)
		}
	}

	appLog.Info("sync tick finished",
		"tick_id", rep.TickID,
		"calendars", len(cals),
		"errors", len(rep.Errors),
		"elapsed", s.now().Sub(start).Round(time.Millisecond).String(),
	)
	return rep, nil
}

func (s *Syncer) calendars(only string) ([]model.Calendar, error) {
	if only != "" {
		cal, err := s.registry.Get(only)
		if err != nil {
			return nil, fmt.Errorf("calendar %s: %w", only, err)
		}
		return []model.Calendar{cal}, nil
	}
	cals, err := s.registry.List()
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	return cals, nil
}

// syncCalendar runs one pass. A nil result means the pass was abandoned
// before planning.
func (s *Syncer) syncCalendar(ctx context.Context, cal model.Calendar) (*reconcile.Result, []string) {
	w := reconcile.ComputeWindow(s.now(), s.cfg.Sync.PastDays, s.cfg.Sync.FutureDays)

	dst, destEvents, srcEvents, err := s.snapshots(ctx, cal, w)
	if err != nil {
		appLog.Error("calendar pass abandoned", err, "calendar", cal.ID)
		return nil, []string{err.Error()}
	}

	res := reconcile.RunPass(ctx, cal.ID, srcEvents, destEvents, w, s.planner(), dst)
	appLog.Info("calendar synced",
		"calendar", cal.ID,
		"created", res.Created,
		"replaced", res.Replaced,
		"deleted", res.Deleted,
		"skipped", res.Skipped,
		"errors", len(res.Errors),
	)

	if err := s.notifier.CalendarChanged(cal.ID, res.Notifications); err != nil {
		appLog.Error("change mail not delivered", err, "calendar", cal.ID)
		res.Errors = append(res.Errors, fmt.Sprintf("Calendar: %s change mail not delivered: %v", cal.ID, err))
	}
	return &res, res.Errors
}

// snapshots opens the destination and reads both sides, destination first.
// Destination categories come from the adapter; source categories are
// assigned here.
func (s *Syncer) snapshots(ctx context.Context, cal model.Calendar, w reconcile.Window) (Destination, []model.Event, []model.Event, error) {
	dst, err := s.destinations(ctx, cal)
	if err != nil {
		if googleauth.IsAuthRequired(err) {
			return nil, nil, nil, err
		}
		return nil, nil, nil, &reconcile.FetchError{Calendar: cal.ID, Side: reconcile.SideDestination, Err: err}
	}

	destEvents, err := dst.Events(ctx, w)
	if err != nil {
		return nil, nil, nil, &reconcile.FetchError{Calendar: cal.ID, Side: reconcile.SideDestination, Err: err}
	}

	srcEvents, err := s.sources.Events(ctx, cal, w)
	if err != nil {
		return nil, nil, nil, &reconcile.FetchError{Calendar: cal.ID, Side: reconcile.SideSource, Err: err}
	}
	return dst, destEvents, reconcile.ClassifyAll(srcEvents, s.cfg.Settings.OnCampusLocation), nil
}

func (s *Syncer) planner() reconcile.Planner {
	return reconcile.Planner{
		Formatter:       reconcile.NewFormatter(s.cfg.Location()),
		SummaryNotifier: source.SummaryNotifier,
	}
}

// Plan fetches both snapshots of one calendar and returns the plan without
// executing it.
func (s *Syncer) Plan(ctx context.Context, id string) (*reconcile.Plan, error) {
	cal, err := s.registry.Get(id)
	if err != nil {
		return nil, fmt.Errorf("calendar %s: %w", id, err)
	}
	w := reconcile.ComputeWindow(s.now(), s.cfg.Sync.PastDays, s.cfg.Sync.FutureDays)
	_, destEvents, srcEvents, err := s.snapshots(ctx, cal, w)
	if err != nil {
		return nil, err
	}
	return s.planner().Plan(srcEvents, destEvents, w), nil
}

// Err summarizes the report as one error, nil when the tick was clean.
func (r *Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, errors.New(e))
	}
	return errors.Join(errs...)
}
