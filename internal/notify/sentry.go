package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"calsync/internal/config"
)

// Reporter forwards error digests to Sentry. A nil *Reporter is a no-op.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter returns nil when no DSN is configured.
func NewReporter(cfg config.SentryConfig) (*Reporter, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	//nolint:exhaustruct //other fields are optional
	return newReporter(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
	})
}

func newReporter(opts sentry.ClientOptions) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("sentry client: %w", err)
	}
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Digest sends one tick's errors as a single Sentry message.
func (r *Reporter) Digest(tickID string, lines []string) {
	if r == nil || len(lines) == 0 {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTag("tick_id", tickID)
		scope.SetExtra("error_count", len(lines))
		r.hub.CaptureMessage(strings.Join(lines, "\n"))
	})
}

// Flush waits for queued events to be delivered.
func (r *Reporter) Flush(timeout time.Duration) {
	if r == nil {
		return
	}
	r.hub.Flush(timeout)
}
