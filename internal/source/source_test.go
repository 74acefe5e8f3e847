package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/ics"
	"calsync/internal/model"
	"calsync/internal/reconcile"
)

const icsFeed = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\n" +
	"BEGIN:VEVENT\r\nUID:in\r\nSUMMARY:Interview\r\nDTSTART:20240910T140000Z\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:in\r\nSUMMARY:Interview again\r\nDTSTART:20240910T150000Z\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:late\r\nSUMMARY:Far future\r\nDTSTART:20250110T140000Z\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:slot-today\r\nSUMMARY:On Campus Interview\r\nDTSTART:20240905T190000Z\r\nEND:VEVENT\r\n" +
	"BEGIN:VEVENT\r\nUID:slot-later\r\nSUMMARY:On Campus Interview\r\nDTSTART:20240906T190000Z\r\nEND:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const jsonFeed = `{"events":[{"id":"j1","summary":"Tour","start":"2024-09-11"}]}`

func newAdapter(t *testing.T, srv *httptest.Server) *Adapter {
	t.Helper()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	a := New(ics.NewFetcher(t.TempDir(), srv.Client()), ny)
	a.now = func() time.Time { return time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC) }
	return a
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(icsFeed))
	})
	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(jsonFeed))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestEventsFromICS(t *testing.T) {
	srv := feedServer(t)
	a := newAdapter(t, srv)
	w := reconcile.ComputeWindow(a.now(), 1, 30)

	events, err := a.Events(context.Background(), model.Calendar{ID: "owner@example.com", FeedURL: srv.URL + "/ics"}, w)
	require.NoError(t, err)

	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ExternalID)
	}
	assert.Equal(t, []string{"in", "slot-later"}, ids)
	assert.Equal(t, "Interview", events[0].Summary, "first duplicate wins")
	assert.Equal(t, "Potential On Campus Interview", events[1].Summary)
}

func TestEventsFromJSONDetectedByContentType(t *testing.T) {
	srv := feedServer(t)
	a := newAdapter(t, srv)
	w := reconcile.ComputeWindow(a.now(), 1, 30)

	events, err := a.Events(context.Background(), model.Calendar{ID: "owner@example.com", FeedURL: srv.URL + "/json"}, w)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].Start.Equal(model.OnDate(2024, 9, 11)))
}

func TestEventsFetchFailure(t *testing.T) {
	srv := feedServer(t)
	a := newAdapter(t, srv)
	w := reconcile.ComputeWindow(a.now(), 1, 30)

	_, err := a.Events(context.Background(), model.Calendar{ID: "owner@example.com", FeedURL: srv.URL + "/missing"}, w)
	assert.Error(t, err)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatJSON, detectFormat("JSON", ics.FetchResult{}))
	assert.Equal(t, FormatJSON, detectFormat("", ics.FetchResult{Body: []byte("  {\"events\":[]}")}))
	assert.Equal(t, FormatICS, detectFormat("", ics.FetchResult{Body: []byte("BEGIN:VCALENDAR")}))
}

func TestSummaryNotifier(t *testing.T) {
	assert.False(t, SummaryNotifier("Info Session (3 attendees)", "Info Session (4 attendees)"))
	assert.False(t, SummaryNotifier("Info Session (1 attendee)", "Info Session"))
	assert.True(t, SummaryNotifier("Info Session (3 attendees)", "Campus Tour (3 attendees)"))
	assert.True(t, SummaryNotifier("Potential On Campus Interview", "Jane Doe - On Campus Interview"))
}
