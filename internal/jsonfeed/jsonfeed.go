// Package jsonfeed reads the JSON variant of the Slate event feed.
//
// Payload:
//
//	{"events": [{"id": "...", "summary": "...", "location": "...",
//	  "description": "...", "status": "CONFIRMED",
//	  "start": "2024-09-10T14:00:00Z", "end": "2024-09-10"}]}
//
// start and end are RFC 3339 instants or YYYY-MM-DD dates; end may be empty.
package jsonfeed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "calsync/internal/log"
	"calsync/internal/model"
)

// Item is one event as it appears on the wire.
type Item struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Location    string `json:"location"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

type payload struct {
	Events []Item `json:"events"`
}

// Decode parses a JSON feed into canonical events. Items that are not
// confirmed, lack an id, or carry unreadable times are logged and skipped.
func Decode(body []byte) ([]model.Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode json feed: %w", err)
	}
	if p.Events == nil {
		return nil, errors.New("decode json feed: missing events array")
	}

	out := make([]model.Event, 0, len(p.Events))
	for _, it := range p.Events {
		if it.Status != "" && !strings.EqualFold(it.Status, "CONFIRMED") {
			continue
		}
		ev, err := it.toEvent()
		if err != nil {
			appLog.Warn("json feed item skipped", "id", it.ID, "err", err)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (it Item) toEvent() (model.Event, error) {
	if strings.TrimSpace(it.ID) == "" {
		return model.Event{}, errors.New("missing id")
	}
	start, err := ParseMoment(it.Start)
	if err != nil {
		return model.Event{}, fmt.Errorf("start: %w", err)
	}
	if start.IsAbsent() {
		return model.Event{}, errors.New("missing start")
	}
	end, err := ParseMoment(it.End)
	if err != nil {
		return model.Event{}, fmt.Errorf("end: %w", err)
	}
	return model.Event{
		ExternalID:  it.ID,
		Summary:     it.Summary,
		Location:    it.Location,
		Description: it.Description,
		Start:       start,
		End:         end,
	}, nil
}

// ParseMoment reads an RFC 3339 instant or a YYYY-MM-DD date. The empty
// string is Absent.
func ParseMoment(s string) (model.Moment, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return model.Moment{}, nil
	case len(s) == len(time.DateOnly):
		return model.ParseDate(s)
	default:
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return model.Moment{}, err
		}
		return model.At(t), nil
	}
}
