// Package web serves the OAuth onboarding flow and a small admin surface.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"calsync/internal/config"
	"calsync/internal/googleauth"
	"calsync/internal/ics"
	appLog "calsync/internal/log"
	"calsync/internal/model"
	"calsync/internal/store"
)

const (
	pageTitle = "Slate Calendar Sync"
	stateTTL  = 15 * time.Minute
)

// Registry is the part of the store the server writes to.
type Registry interface {
	List() ([]model.Calendar, error)
	Get(id string) (model.Calendar, error)
	Put(cal model.Calendar) error
	PutToken(id string, tok *oauth2.Token) error
}

// Server handles the consent redirect, the OAuth callback and the
// calendar list.
type Server struct {
	cfg  *config.Config
	auth *googleauth.Manager
	reg  Registry
	mux  *http.ServeMux

	statesMu sync.Mutex
	states   map[string]pendingAuth
	now      func() time.Time
}

// pendingAuth remembers which feed an outstanding consent request is for.
type pendingAuth struct {
	feedURL string
	expires time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, auth *googleauth.Manager, reg Registry) *Server {
	s := &Server{
		cfg:    cfg,
		auth:   auth,
		reg:    reg,
		mux:    http.NewServeMux(),
		states: map[string]pendingAuth{},
		now:    time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/calendarlist", s.protect(http.HandlerFunc(s.handleCalendarList)))
	s.mux.HandleFunc("/", s.handleRoot)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.Server.BasicAuth
	if ba == nil {
		return false
	}
	// An empty user or password disables auth.
	return ba.Username != "" && ba.Password != ""
}

// protect wraps next with HTTP Basic Auth when it is configured.
func (s *Server) protect(next http.Handler) http.Handler {
	if !s.basicAuthEnabled() {
		return next
	}
	username := s.cfg.Server.BasicAuth.Username
	password := s.cfg.Server.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="calsync", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves until ctx is canceled, then shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Server.Listen, "public_url", cfg.Server.PublicURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleRoot dispatches on the query string the way Slate and Google call
// back into the service:
//
//	/?calendar=<email>&id=<slate user id>  start onboarding
//	/?code=...&state=...                   OAuth callback
//	/?error=...                            consent denied
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	switch {
	case q.Has("calendar"):
		s.handleStart(w, r, q.Get("calendar"), q.Get("id"))
	case q.Has("error"):
		appLog.Warn("authorization denied", "error", q.Get("error"))
		writePage(w, http.StatusOK, "Error occurred while requesting authorization from Google.")
	case q.Has("code"):
		s.handleCallback(w, r, q.Get("code"), q.Get("state"))
	default:
		writePage(w, http.StatusOK, "Slate-Google Calendar Sync. Please log in to Slate to set up the sync.")
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, calendarID, slateID string) {
	calendarID = strings.ToLower(strings.TrimSpace(calendarID))
	if calendarID == "" || slateID == "" {
		writePage(w, http.StatusBadRequest, "Both calendar and id are required.")
		return
	}

	_, err := s.reg.Get(calendarID)
	switch {
	case err == nil:
		writePage(w, http.StatusOK, "Calendar "+calendarID+" already exists")
		return
	case !errors.Is(err, store.ErrNotFound):
		appLog.Error("calendar lookup failed", err, "calendar", calendarID)
		writePage(w, http.StatusInternalServerError, "Error adding calendar.")
		return
	}

	feedURL := FeedURL(s.cfg.Server.SlateServer, slateID)
	state := s.rememberState(feedURL)
	appLog.Info("redirecting to consent", "calendar", calendarID, "feed", ics.RedactURL(feedURL))
	http.Redirect(w, r, googleauth.AuthURL(s.auth.Config(), state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request, code, state string) {
	feedURL, ok := s.takeState(state)
	if !ok {
		writePage(w, http.StatusBadRequest, "Authorization request expired or unknown. Please start again from Slate.")
		return
	}

	ctx := r.Context()
	tok, err := s.auth.Exchange(ctx, code)
	if err != nil {
		appLog.Error("code exchange failed", err)
		writePage(w, http.StatusOK, "Error adding calendar.")
		return
	}
	email, err := s.auth.AccountEmail(ctx, tok)
	if err != nil {
		appLog.Error("userinfo lookup failed", err)
		writePage(w, http.StatusOK, "Error adding calendar.")
		return
	}

	cal, err := s.reg.Get(email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		appLog.Error("calendar lookup failed", err, "calendar", email)
		writePage(w, http.StatusInternalServerError, "Error adding calendar.")
		return
	}
	cal.ID = email
	cal.FeedURL = feedURL

	if err := s.reg.PutToken(email, tok); err != nil {
		appLog.Error("storing token failed", err, "calendar", email)
		writePage(w, http.StatusInternalServerError, "Error adding calendar.")
		return
	}
	if err := s.reg.Put(cal); err != nil {
		appLog.Error("storing calendar failed", err, "calendar", email)
		writePage(w, http.StatusInternalServerError, "Error adding calendar.")
		return
	}

	appLog.Info("calendar added", "calendar", email, "feed", ics.RedactURL(feedURL))
	writePage(w, http.StatusOK, "Successfully added calendar "+email)
}

// calendarDTO is the JSON view of one registered calendar.
type calendarDTO struct {
	ID            string    `json:"id"`
	Feed          string    `json:"feed"`
	FeedFormat    string    `json:"feed_format,omitempty"`
	OnCampusColor string    `json:"on_campus_color,omitempty"`
	OtherColor    string    `json:"other_color,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) handleCalendarList(w http.ResponseWriter, _ *http.Request) {
	cals, err := s.reg.List()
	if err != nil {
		appLog.Error("listing calendars failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list calendars")
		return
	}
	out := make([]calendarDTO, 0, len(cals))
	for _, c := range cals {
		out = append(out, calendarDTO{
			ID:            c.ID,
			Feed:          ics.RedactURL(c.FeedURL),
			FeedFormat:    c.FeedFormat,
			OnCampusColor: c.OnCampusColor,
			OtherColor:    c.OtherColor,
			CreatedAt:     c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// rememberState issues a single-use nonce for a consent round trip.
func (s *Server) rememberState(feedURL string) string {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	now := s.now()
	for k, p := range s.states {
		if now.After(p.expires) {
			delete(s.states, k)
		}
	}
	state := uuid.NewString()
	s.states[state] = pendingAuth{feedURL: feedURL, expires: now.Add(stateTTL)}
	return state
}

func (s *Server) takeState(state string) (string, bool) {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()

	p, ok := s.states[state]
	if !ok {
		return "", false
	}
	delete(s.states, state)
	if s.now().After(p.expires) {
		return "", false
	}
	return p.feedURL, true
}

// FeedURL builds the ICS feed address of a Slate user.
func FeedURL(slateServer, slateID string) string {
	return strings.TrimRight(slateServer, "/") + "/manage/event/?user=" + url.QueryEscape(slateID) + "&output=ical"
}

func writePage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<html><head><title>%s</title></head><body>%s</body></html>", pageTitle, html.EscapeString(msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
