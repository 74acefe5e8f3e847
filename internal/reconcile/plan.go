package reconcile

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

// OpKind is the kind of a planned operation.
type OpKind uint8

const (
	OpSkip OpKind = iota
	OpCreate
	OpReplace
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpReplace:
		return "replace"
	case OpDelete:
		return "delete"
	default:
		return "skip"
	}
}

// Skip and apply reasons recorded on operations.
const (
	ReasonNoChange         = "no change"
	ReasonGraceNoCreate    = "grace period, no create"
	ReasonGraceSuppressed  = "grace period, change suppressed"
	ReasonGraceNoDelete    = "grace period, no delete"
	ReasonNotInDestination = "not in destination"
	ReasonNotInSource      = "no longer in source"
)

// Operation is one planned change to the destination calendar.
type Operation struct {
	Kind OpKind
	// Event is the source event (with its effective end) for Create and
	// Replace, and the destination event for Delete. For Skip it is the
	// source event when one exists, otherwise the destination event.
	Event model.Event
	// Previous is the destination event a Replace removes.
	Previous model.Event
	// Changes is the changed-field set behind a Replace or a suppressed change.
	Changes FieldSet
	Reason  string
}

// Plan is the ordered result of one planning run.
type Plan struct {
	Operations    []Operation
	Notifications []string
	Anomalies     []error
}

// Count returns how many operations of kind k the plan holds.
func (p *Plan) Count(k OpKind) int {
	n := 0
	for _, op := range p.Operations {
		if op.Kind == k {
			n++
		}
	}
	return n
}

// String renders the plan one operation per line followed by the
// notifications and anomalies. Used for dry runs and logs.
func (p *Plan) String() string {
	var b strings.Builder
	for _, op := range p.Operations {
		fmt.Fprintf(&b, "%s %s: %s\n", op.Kind, op.Event.ExternalID, op.Reason)
	}
	if len(p.Notifications) > 0 {
		b.WriteString("notifications:\n")
		for _, n := range p.Notifications {
			b.WriteString("  " + n + "\n")
		}
	}
	if len(p.Anomalies) > 0 {
		b.WriteString("anomalies:\n")
		for _, a := range p.Anomalies {
			b.WriteString("  " + a.Error() + "\n")
		}
	}
	return b.String()
}

// SummaryNotifier reports whether a summary change from before to after should
// be announced to the calendar owner.
type SummaryNotifier func(before, after string) bool

// Planner computes reconciliation plans. The zero value is usable: it
// formats instants in UTC and treats every summary change as notify-worthy.
type Planner struct {
	Formatter       Formatter
	SummaryNotifier SummaryNotifier
}

func (p Planner) summaryNotifiable(before, after string) bool {
	if p.SummaryNotifier == nil {
		return true
	}
	return p.SummaryNotifier(before, after)
}

// Plan matches source against destination by external id and decides, per
// event, whether to create, replace, delete or leave it alone. It performs
// no I/O.
func (p Planner) Plan(source, destination []model.Event, w Window) *Plan {
	plan := &Plan{}

	dst := make(map[string]model.Event, len(destination))
	for _, d := range sortedByStart(destination) {
		if reason := p.keyProblem(d, dst); reason != "" {
			plan.Anomalies = append(plan.Anomalies, &MatchError{Side: SideDestination, Event: d, Reason: reason})
			continue
		}
		dst[d.ExternalID] = d
	}

	unmatched := make(map[string]struct{}, len(dst))
	for id := range dst {
		unmatched[id] = struct{}{}
	}

	seen := make(map[string]model.Event, len(source))
	for _, src := range sortedByStart(source) {
		if reason := p.keyProblem(src, seen); reason != "" {
			plan.Anomalies = append(plan.Anomalies, &MatchError{Side: SideSource, Event: src, Reason: reason})
			continue
		}
		seen[src.ExternalID] = src

		d, ok := dst[src.ExternalID]
		if !ok {
			p.planMissing(plan, src, w)
			continue
		}
		delete(unmatched, src.ExternalID)
		p.planMatched(plan, src, d, w)
	}

	leftovers := make([]model.Event, 0, len(unmatched))
	for id := range unmatched {
		leftovers = append(leftovers, dst[id])
	}
	for _, d := range sortedByStart(leftovers) {
		if w.InGracePeriod(d.Start) {
			appLog.Debug("plan: destination event in grace period, not deleting", "external_id", d.ExternalID)
			plan.Operations = append(plan.Operations, Operation{Kind: OpSkip, Event: d, Reason: ReasonGraceNoDelete})
			continue
		}
		plan.Operations = append(plan.Operations, Operation{Kind: OpDelete, Event: d, Reason: ReasonNotInSource})
		plan.Notifications = append(plan.Notifications, p.Formatter.Deleting(d))
	}

	return plan
}

func (p Planner) keyProblem(e model.Event, seen map[string]model.Event) string {
	if e.ExternalID == "" {
		return "empty external id"
	}
	if _, dup := seen[e.ExternalID]; dup {
		return "duplicate external id " + e.ExternalID
	}
	return ""
}

func (p Planner) planMissing(plan *Plan, src model.Event, w Window) {
	if w.InGracePeriod(src.Start) {
		appLog.Debug("plan: source event in grace period, not creating", "external_id", src.ExternalID)
		plan.Operations = append(plan.Operations, Operation{Kind: OpSkip, Event: src, Reason: ReasonGraceNoCreate})
		return
	}
	plan.Operations = append(plan.Operations, Operation{
		Kind:   OpCreate,
		Event:  withEffectiveEnd(src),
		Reason: ReasonNotInDestination,
	})
	plan.Notifications = append(plan.Notifications, p.Formatter.Adding(src))
}

func (p Planner) planMatched(plan *Plan, src, dst model.Event, w Window) {
	v := Compare(src, dst)
	if v.Unchanged() {
		plan.Operations = append(plan.Operations, Operation{Kind: OpSkip, Event: src, Reason: ReasonNoChange})
		return
	}

	// Already-materialized events are frozen inside the grace period even
	// though a new event at the same start would have been created.
	if w.InGracePeriod(src.Start) {
		appLog.Debug("plan: change suppressed in grace period", "external_id", src.ExternalID, "changes", v.Changed)
		plan.Operations = append(plan.Operations, Operation{
			Kind:    OpSkip,
			Event:   src,
			Changes: v.Changed,
			Reason:  ReasonGraceSuppressed,
		})
		return
	}

	appLog.Debug("plan: event changed", "external_id", src.ExternalID, "changes", v.Changed)
	plan.Operations = append(plan.Operations, Operation{
		Kind:     OpReplace,
		Event:    withEffectiveEnd(src),
		Previous: dst,
		Changes:  v.Changed,
		Reason:   "changed " + v.Changed.String(),
	})

	notify := v.Changed.Has(FieldStart) || v.Changed.Has(FieldEnd) ||
		(v.Changed.Has(FieldSummary) && p.summaryNotifiable(dst.Summary, src.Summary))
	if notify {
		plan.Notifications = append(plan.Notifications, p.Formatter.Deleting(dst), p.Formatter.Adding(src))
	}
}

func withEffectiveEnd(src model.Event) model.Event {
	end, ok := EffectiveEnd(src)
	if !ok {
		appLog.Warn("event has a date start but a timed end; passing end through",
			"external_id", src.ExternalID, "start", src.Start, "end", src.End)
	}
	src.End = end
	return src
}

func sortedByStart(events []model.Event) []model.Event {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b model.Event) int {
		if c := a.Start.Time().Compare(b.Start.Time()); c != 0 {
			return c
		}
		return cmp.Compare(a.ExternalID, b.ExternalID)
	})
	return out
}
