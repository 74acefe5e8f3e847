package notify

import (
	"net/smtp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync/internal/config"
)

type sent struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func recordingMailer(cfg config.EmailConfig) (*Mailer, *[]sent) {
	var out []sent
	m := NewMailer(cfg)
	m.now = func() time.Time { return time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC) }
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		out = append(out, sent{addr: addr, auth: a, from: from, to: to, msg: string(msg)})
		return nil
	}
	return m, &out
}

func emailConfig() config.EmailConfig {
	cfg := config.DefaultConfig().Email
	cfg.From = "slate-sync@example.edu"
	cfg.SMTPAddr = "mail.example.edu:25"
	cfg.ErrorTo = []string{"ops@example.edu", "dev@example.edu"}
	return cfg
}

func TestCalendarChanged(t *testing.T) {
	cfg := emailConfig()
	m, out := recordingMailer(cfg)
	n := New(cfg, m, nil)

	require.NoError(t, n.CalendarChanged("owner@example.edu", nil))
	assert.Empty(t, *out)

	lines := []string{
		"Adding event: September 10, 2024 10:00 AM - Interview",
		"Deleting event: September 15, 2024 09:00 AM - Old Event",
	}
	require.NoError(t, n.CalendarChanged("owner@example.edu", lines))
	require.Len(t, *out, 1)

	got := (*out)[0]
	assert.Equal(t, "mail.example.edu:25", got.addr)
	assert.Nil(t, got.auth)
	assert.Equal(t, []string{"owner@example.edu"}, got.to)
	assert.Contains(t, got.msg, "Subject: Slate Calendar Updates\r\n")
	assert.Contains(t, got.msg, "Date: Thu, 05 Sep 2024 12:00:00 +0000\r\n")
	assert.True(t, strings.HasSuffix(got.msg, "\r\n\r\n"+strings.Join(lines, "\r\n")+"\r\n"))
}

func TestCalendarChangedDisabled(t *testing.T) {
	cfg := emailConfig()
	cfg.EventChanges = false
	m, out := recordingMailer(cfg)

	require.NoError(t, New(cfg, m, nil).CalendarChanged("owner@example.edu", []string{"Adding event: x"}))
	assert.Empty(t, *out)
}

func TestSyncErrorsMailsAndReports(t *testing.T) {
	cfg := emailConfig()
	cfg.Username, cfg.Password = "relay", "pw"
	m, out := recordingMailer(cfg)

	var mu sync.Mutex
	var captured []*sentry.Event
	//nolint:exhaustruct //other fields are optional
	r, err := newReporter(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.com/1",
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			captured = append(captured, e)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)

	lines := []string{"Calendar: a@example.edu could not fetch source events: 404 Not Found"}
	require.NoError(t, New(cfg, m, r).SyncErrors("tick-1", lines))

	require.Len(t, *out, 1)
	assert.Equal(t, cfg.ErrorTo, (*out)[0].to)
	assert.NotNil(t, (*out)[0].auth)
	assert.Contains(t, (*out)[0].msg, "Subject: Slate-Google Sync Errors\r\n")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, captured, 1)
	assert.Equal(t, lines[0], captured[0].Message)
	assert.Equal(t, "tick-1", captured[0].Tags["tick_id"])
}

func TestSyncErrorsWithoutRecipients(t *testing.T) {
	cfg := emailConfig()
	cfg.ErrorTo = nil
	m, _ := recordingMailer(cfg)

	assert.Error(t, New(cfg, m, nil).SyncErrors("tick-1", []string{"boom"}))
	assert.NoError(t, New(cfg, m, nil).SyncErrors("tick-1", nil))
}

func TestSyncErrorsWithoutRelay(t *testing.T) {
	cfg := config.DefaultConfig().Email
	cfg.ErrorTo = []string{"ops@example.edu"}
	m, out := recordingMailer(cfg)

	err := New(cfg, m, nil).SyncErrors("tick-1", []string{"boom"})
	assert.ErrorContains(t, err, "no SMTP relay")
	assert.Empty(t, *out)

	//nolint:exhaustruct //other fields are optional
	r, err := newReporter(sentry.ClientOptions{
		Dsn:        "https://public@sentry.example.com/1",
		BeforeSend: func(*sentry.Event, *sentry.EventHint) *sentry.Event { return nil },
	})
	require.NoError(t, err)
	assert.NoError(t, New(cfg, m, r).SyncErrors("tick-1", []string{"boom"}))
}

func TestMailDisabledWithoutRelay(t *testing.T) {
	cfg := config.DefaultConfig().Email
	m, out := recordingMailer(cfg)

	require.NoError(t, m.Send([]string{"a@example.edu"}, "s", "b"))
	assert.Empty(t, *out)
}

func TestNilReporterIsNoop(t *testing.T) {
	var r *Reporter
	r.Digest("tick", []string{"x"})
	r.Flush(time.Millisecond)
}
