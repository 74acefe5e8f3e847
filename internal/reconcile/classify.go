package reconcile

import (
	"strings"

	"calsync/internal/model"
)

// Classify returns CategoryOnCampus when location starts with onCampusPrefix.
// The match is case-sensitive and an empty prefix never matches.
func Classify(location, onCampusPrefix string) model.Category {
	if onCampusPrefix != "" && strings.HasPrefix(location, onCampusPrefix) {
		return model.CategoryOnCampus
	}
	return model.CategoryOther
}

// ClassifyAll returns a copy of events with Category set from each location.
func ClassifyAll(events []model.Event, onCampusPrefix string) []model.Event {
	out := make([]model.Event, len(events))
	for i, e := range events {
		e.Category = Classify(e.Location, onCampusPrefix)
		out[i] = e
	}
	return out
}
