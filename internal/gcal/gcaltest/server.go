// Package gcaltest provides an in-memory Google Calendar v3 server for
// tests.
package gcaltest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// PageSize is the number of events returned per list page.
const PageSize = 2

// Server fakes the subset of the Calendar API the adapter uses.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	events map[string]*calendar.Event
	order  []string
	nextID int
	fail   map[string][]failure

	Inserted []string
	Deleted  []string
}

type failure struct {
	status int
	reason string
}

// NewServer starts a server that is closed with t.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{events: map[string]*calendar.Event{}, fail: map[string][]failure{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Options points a calendar service at the fake.
func (s *Server) Options() []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(s.URL + "/"),
		option.WithHTTPClient(s.Client()),
	}
}

// Add stores an event directly and returns its id.
func (s *Server) Add(ev *calendar.Event) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(ev)
}

// Events returns a copy of the stored events ordered by insertion.
func (s *Server) Events() []*calendar.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*calendar.Event, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.events[id]
		out = append(out, &cp)
	}
	return out
}

// FailNext makes the next call of op ("list", "insert", "delete", "colors")
// fail with status. reason fills the Google error item, e.g.
// "rateLimitExceeded".
func (s *Server) FailNext(op string, status int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = append(s.fail[op], failure{status: status, reason: reason})
}

func (s *Server) addLocked(ev *calendar.Event) string {
	s.nextID++
	id := "evt" + strconv.Itoa(s.nextID)
	cp := *ev
	cp.Id = id
	s.events[id] = &cp
	s.order = append(s.order, id)
	return id
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	op := ""
	switch {
	case len(parts) == 1 && parts[0] == "colors" && r.Method == http.MethodGet:
		op = "colors"
	case len(parts) == 3 && parts[2] == "events" && r.Method == http.MethodGet:
		op = "list"
	case len(parts) == 3 && parts[2] == "events" && r.Method == http.MethodPost:
		op = "insert"
	case len(parts) == 4 && parts[2] == "events" && r.Method == http.MethodDelete:
		op = "delete"
	default:
		writeError(w, http.StatusNotFound, "notFound")
		return
	}

	if fs := s.fail[op]; len(fs) > 0 {
		s.fail[op] = fs[1:]
		writeError(w, fs[0].status, fs[0].reason)
		return
	}

	switch op {
	case "colors":
		writeJSON(w, calendar.Colors{Event: map[string]calendar.ColorDefinition{
			"1":  {Background: "#a4bdfc", Foreground: "#1d1d1d"},
			"2":  {Background: "#7ae7bf", Foreground: "#1d1d1d"},
			"11": {Background: "#dc2127", Foreground: "#1d1d1d"},
		}})
	case "list":
		s.list(w, r)
	case "insert":
		var ev calendar.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			writeError(w, http.StatusBadRequest, "parseError")
			return
		}
		id := s.addLocked(&ev)
		s.Inserted = append(s.Inserted, id)
		writeJSON(w, s.events[id])
	case "delete":
		id := parts[3]
		if _, ok := s.events[id]; !ok {
			writeError(w, http.StatusGone, "deleted")
			return
		}
		delete(s.events, id)
		s.order = slices.DeleteFunc(s.order, func(x string) bool { return x == id })
		s.Deleted = append(s.Deleted, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	timeMin, _ := time.Parse(time.RFC3339, q.Get("timeMin"))
	timeMax, _ := time.Parse(time.RFC3339, q.Get("timeMax"))

	var matched []*calendar.Event
	for _, id := range s.order {
		ev := s.events[id]
		start := startOf(ev)
		if !timeMin.IsZero() && start.Before(timeMin) {
			continue
		}
		if !timeMax.IsZero() && !start.Before(timeMax) {
			continue
		}
		matched = append(matched, ev)
	}
	slices.SortStableFunc(matched, func(a, b *calendar.Event) int {
		return startOf(a).Compare(startOf(b))
	})

	offset, _ := strconv.Atoi(q.Get("pageToken"))
	end := min(offset+PageSize, len(matched))
	page := calendar.Events{Items: matched[min(offset, end):end]}
	if end < len(matched) {
		page.NextPageToken = strconv.Itoa(end)
	}
	writeJSON(w, page)
}

func startOf(ev *calendar.Event) time.Time {
	if ev.Start == nil {
		return time.Time{}
	}
	if ev.Start.DateTime != "" {
		t, _ := time.Parse(time.RFC3339, ev.Start.DateTime)
		return t
	}
	t, _ := time.Parse(time.DateOnly, ev.Start.Date)
	return t
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"errors":[{"domain":"global","reason":%q,"message":%q}]}}`,
		status, reason, reason, reason)
}
