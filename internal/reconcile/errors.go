package reconcile

import (
	"errors"
	"fmt"

	"calsync/internal/model"
)

// Side names which snapshot an error or anomaly concerns.
type Side string

const (
	SideSource      Side = "source"
	SideDestination Side = "destination"
)

// FetchError means a snapshot could not be retrieved; nothing is planned for
// that calendar in this pass.
type FetchError struct {
	Calendar string
	Side     Side
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Calendar: %s could not fetch %s events: %v", e.Calendar, e.Side, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CreateError records one failed create. The pass continues.
type CreateError struct {
	Calendar   string
	ExternalID string
	Err        error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("Calendar: %s could not create event %s: %v", e.Calendar, e.ExternalID, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

// DeleteError records one failed delete. The pass continues.
type DeleteError struct {
	Calendar   string
	ExternalID string
	Ref        model.Ref
	Err        error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("Calendar: %s could not delete event %s (%s): %v", e.Calendar, e.ExternalID, e.Ref, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// MatchError flags an event that cannot take part in key matching. Adapters
// are expected to make this unreachable; the event is skipped.
type MatchError struct {
	Side   Side
	Event  model.Event
	Reason string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("%s event %q skipped: %s", e.Side, e.Event.Summary, e.Reason)
}

func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

func IsCreateError(err error) bool {
	var ce *CreateError
	return errors.As(err, &ce)
}

func IsDeleteError(err error) bool {
	var de *DeleteError
	return errors.As(err, &de)
}

func IsMatchError(err error) bool {
	var me *MatchError
	return errors.As(err, &me)
}
