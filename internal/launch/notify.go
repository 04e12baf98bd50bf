package launch

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Event is a job status change worth telling someone about.
type Event string

const (
	EventBegin Event = "BEGIN"
	EventEnd   Event = "END"
	EventFail  Event = "FAIL"
)

// Notification describes one status change of one job.
type Notification struct {
	Event   Event
	JobName string
	JobID   string
	Detail  string
}

// Notifier delivers job status notifications to the configured recipient.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log. Used when no SMTP relay is
// configured and as the test double.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	log.Info().
		Str("event", string(n.Event)).
		Str("job", n.JobName).
		Str("job_id", n.JobID).
		Str("detail", n.Detail).
		Msg("job notification")
	return nil
}

// SMTPNotifier sends plain-text mail the way scheduler mail plugins do.
type SMTPNotifier struct {
	Addr      string // host:port of the relay
	From      string
	Recipient string // the fixed recipient from the directive set
	Auth      smtp.Auth

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPNotifier(addr, from, recipient string, auth smtp.Auth) *SMTPNotifier {
	return &SMTPNotifier{Addr: addr, From: from, Recipient: recipient, Auth: auth, send: smtp.SendMail}
}

func (s *SMTPNotifier) Notify(ctx context.Context, n Notification) error {
	if s.Recipient == "" {
		return fmt.Errorf("smtp notifier: no recipient")
	}
	sender := s.send
	if sender == nil {
		sender = smtp.SendMail
	}
	subject := fmt.Sprintf("Job %s (%s): %s", n.JobName, n.JobID, n.Event)
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", s.Recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n\r\n", subject)
	fmt.Fprintf(&b, "Job %s (id %s) reported %s.\r\n", n.JobName, n.JobID, n.Event)
	if n.Detail != "" {
		fmt.Fprintf(&b, "\r\n%s\r\n", n.Detail)
	}
	if err := sender(s.Addr, s.Auth, s.From, []string{s.Recipient}, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}
