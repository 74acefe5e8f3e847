package reconcile

import (
	"context"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

// Executor applies planned operations to one destination calendar.
type Executor interface {
	Create(ctx context.Context, e model.Event) error
	Delete(ctx context.Context, ref model.Ref) error
}

// Result summarizes one executed pass for a single calendar.
type Result struct {
	Created  int
	Replaced int
	Deleted  int
	Skipped  int

	Errors        []string
	Notifications []string
	Anomalies     []string
}

// Changed reports whether the pass touched the destination at all.
func (r Result) Changed() bool {
	return r.Created+r.Replaced+r.Deleted > 0
}

// RunPass plans source against destination and executes the plan.
func RunPass(ctx context.Context, calendarID string, source, destination []model.Event, w Window, planner Planner, ex Executor) Result {
	plan := planner.Plan(source, destination, w)
	return Execute(ctx, calendarID, plan, ex)
}

// Execute applies every operation of plan through ex. A failed operation is
// recorded and the remaining operations still run; nothing is rolled back.
func Execute(ctx context.Context, calendarID string, plan *Plan, ex Executor) Result {
	res := Result{
		Notifications: append([]string(nil), plan.Notifications...),
	}
	for _, a := range plan.Anomalies {
		appLog.Warn("reconcile anomaly", "calendar", calendarID, "detail", a)
		res.Anomalies = append(res.Anomalies, a.Error())
	}

	for _, op := range plan.Operations {
		switch op.Kind {
		case OpSkip:
			res.Skipped++

		case OpCreate:
			if err := ex.Create(ctx, op.Event); err != nil {
				res.Errors = append(res.Errors, (&CreateError{Calendar: calendarID, ExternalID: op.Event.ExternalID, Err: err}).Error())
				appLog.Error("create failed", err, "calendar", calendarID, "external_id", op.Event.ExternalID)
				continue
			}
			appLog.Info("event created", "calendar", calendarID, "external_id", op.Event.ExternalID)
			res.Created++

		case OpReplace:
			if err := ex.Delete(ctx, op.Previous.DestinationRef); err != nil {
				res.Errors = append(res.Errors, (&DeleteError{Calendar: calendarID, ExternalID: op.Previous.ExternalID, Ref: op.Previous.DestinationRef, Err: err}).Error())
				appLog.Error("replace: delete failed, create not attempted", err, "calendar", calendarID, "external_id", op.Event.ExternalID)
				continue
			}
			if err := ex.Create(ctx, op.Event); err != nil {
				res.Errors = append(res.Errors, (&CreateError{Calendar: calendarID, ExternalID: op.Event.ExternalID, Err: err}).Error())
				appLog.Error("replace: create failed", err, "calendar", calendarID, "external_id", op.Event.ExternalID)
				continue
			}
			appLog.Info("event replaced", "calendar", calendarID, "external_id", op.Event.ExternalID, "changes", op.Changes)
			res.Replaced++

		case OpDelete:
			if err := ex.Delete(ctx, op.Event.DestinationRef); err != nil {
				res.Errors = append(res.Errors, (&DeleteError{Calendar: calendarID, ExternalID: op.Event.ExternalID, Ref: op.Event.DestinationRef, Err: err}).Error())
				appLog.Error("delete failed", err, "calendar", calendarID, "external_id", op.Event.ExternalID)
				continue
			}
			appLog.Info("event deleted", "calendar", calendarID, "external_id", op.Event.ExternalID)
			res.Deleted++
		}
	}

	return res
}
