package notify

import (
	"errors"
	"strings"

	"calsync/internal/config"
	appLog "calsync/internal/log"
)

// Notifier routes per-calendar change lists to the calendar owner and the
// tick's error digest to the operators.
type Notifier struct {
	mailer   *Mailer
	reporter *Reporter
	cfg      config.EmailConfig
}

// New returns a Notifier. reporter may be nil.
func New(cfg config.EmailConfig, mailer *Mailer, reporter *Reporter) *Notifier {
	return &Notifier{mailer: mailer, reporter: reporter, cfg: cfg}
}

// CalendarChanged mails the change lines to the calendar address. Nothing
// is sent when change mail is off or there is nothing to report.
func (n *Notifier) CalendarChanged(calendarID string, lines []string) error {
	if !n.cfg.EventChanges || len(lines) == 0 {
		return nil
	}
	return n.mailer.Send([]string{calendarID}, n.cfg.ChangeSubject, strings.Join(lines, "\n"))
}

// SyncErrors sends the digest to the configured operators and to Sentry.
// It fails when neither channel can carry the digest.
func (n *Notifier) SyncErrors(tickID string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	n.reporter.Digest(tickID, lines)

	switch {
	case len(n.cfg.ErrorTo) > 0 && n.cfg.Enabled():
		return n.mailer.Send(n.cfg.ErrorTo, n.cfg.ErrorSubject, strings.Join(lines, "\n"))
	case len(n.cfg.ErrorTo) > 0:
		appLog.Warn("error digest not mailed: no SMTP relay configured", "tick_id", tickID, "to", strings.Join(n.cfg.ErrorTo, ","))
		if n.reporter == nil {
			return errors.New("error digest undelivered: error_to is set but no SMTP relay is configured")
		}
	case n.reporter == nil:
		return errors.New("error digest has no recipients")
	}
	return nil
}
