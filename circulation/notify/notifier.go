// Package notify provides circulation.Notifier implementations: an SMTP
// sender for real delivery, a logger-backed sender for environments without
// a mail relay, and a recording fake for tests.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"sync"

	"github.com/bibliokit/circulation-go/circulation"
)

const (
	// DefaultSMTPAddr matches the local MailDev relay used in development.
	DefaultSMTPAddr = "localhost:1025"

	// DefaultSender is the from-address on every outbound message.
	DefaultSender = `"Library Admin" <no-reply@library.local>`
)

// SMTPNotifier delivers messages over plain SMTP. Delivery runs inside the
// caller's context deadline; the engine treats any returned error as
// log-and-continue.
type SMTPNotifier struct {
	addr   string
	sender string
}

// SMTPOption configures an SMTPNotifier.
type SMTPOption func(*SMTPNotifier)

// WithAddr overrides the relay address.
func WithAddr(addr string) SMTPOption {
	return func(n *SMTPNotifier) {
		n.addr = addr
	}
}

// WithSender overrides the from-address.
func WithSender(sender string) SMTPOption {
	return func(n *SMTPNotifier) {
		n.sender = sender
	}
}

// NewSMTPNotifier creates an SMTP notifier with optional configuration.
func NewSMTPNotifier(options ...SMTPOption) *SMTPNotifier {
	n := &SMTPNotifier{
		addr:   DefaultSMTPAddr,
		sender: DefaultSender,
	}

	for _, option := range options {
		option(n)
	}

	return n
}

// Notify sends one message to one recipient.
func (n *SMTPNotifier) Notify(_ context.Context, to string, subject string, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", n.sender, to, subject, body)

	return smtp.SendMail(n.addr, nil, n.sender, []string{to}, []byte(msg))
}

// LogNotifier writes would-be deliveries to the logger instead of a relay.
type LogNotifier struct {
	logger circulation.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(logger circulation.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the message at info level.
func (n *LogNotifier) Notify(_ context.Context, to string, subject string, _ string) error {
	if n.logger != nil {
		n.logger.Info("notification", "to", to, "subject", subject)
	}

	return nil
}

// Delivery is one recorded notification.
type Delivery struct {
	To      string
	Subject string
	Body    string
}

// Recorder is a circulation.Notifier fake that captures deliveries for
// assertions. The zero value is ready to use.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	failWith   error
}

// FailWith makes every subsequent Notify call return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.failWith = err
}

// Notify records the delivery.
func (r *Recorder) Notify(_ context.Context, to string, subject string, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failWith != nil {
		return r.failWith
	}

	r.deliveries = append(r.deliveries, Delivery{To: to, Subject: subject, Body: body})

	return nil
}

// Deliveries returns a copy of everything recorded so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)

	return out
}
