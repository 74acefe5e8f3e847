// Package notify delivers change notifications and error digests.
package notify

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"calsync/internal/config"
	appLog "calsync/internal/log"
)

// SendFunc has the signature of smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends plain-text mail through one SMTP relay.
type Mailer struct {
	cfg  config.EmailConfig
	send SendFunc
	now  func() time.Time
}

// NewMailer returns a Mailer for cfg.
func NewMailer(cfg config.EmailConfig) *Mailer {
	return &Mailer{cfg: cfg, send: smtp.SendMail, now: time.Now}
}

// Send mails body to the recipients.
func (m *Mailer) Send(to []string, subject, body string) error {
	if !m.cfg.Enabled() {
		appLog.Debug("mail disabled, not sending", "subject", subject)
		return nil
	}
	if len(to) == 0 {
		return errors.New("no recipients")
	}

	msg := buildMessage(m.cfg.From, to, subject, body, m.now())
	if err := m.send(m.cfg.SMTPAddr, m.auth(), m.cfg.From, to, msg); err != nil {
		return fmt.Errorf("send mail %q: %w", subject, err)
	}
	appLog.Info("mail sent", "subject", subject, "to", strings.Join(to, ","))
	return nil
}

func (m *Mailer) auth() smtp.Auth {
	if m.cfg.Username == "" {
		return nil
	}
	host, _, err := net.SplitHostPort(m.cfg.SMTPAddr)
	if err != nil {
		host = m.cfg.SMTPAddr
	}
	return smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, host)
}

func buildMessage(from string, to []string, subject, body string, date time.Time) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", date.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}
