package errtrack

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	mail "github.com/go-mail/mail"

	"github.com/moonwalker/searchindex/pkg/config"
)

// Extra is diagnostic context attached to a notification.
type Extra map[string]interface{}

// Notifier reports unexpected errors to an external tracker.
type Notifier interface {
	Notify(err error, extra Extra)
}

// Log writes notifications as error log lines.
type Log struct{}

func (Log) Notify(err error, extra Extra) {
	args := []any{"err", err.Error()}
	for _, k := range sortedKeys(extra) {
		args = append(args, k, extra[k])
	}
	slog.Error("Error notification", args...)
}

// Mailer sends each notification as an exception email.
type Mailer struct {
	From    string
	To      []string
	Subject string

	dialer *mail.Dialer
	send   func(*mail.Message) error
}

func NewMailer(cfg config.SMTPConfig) *Mailer {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Pass)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}

	m := &Mailer{
		From:    cfg.From,
		To:      cfg.To,
		Subject: "[searchindex] exception",
		dialer:  d,
	}
	m.send = func(msg *mail.Message) error {
		return m.dialer.DialAndSend(msg)
	}
	return m
}

func (m *Mailer) Notify(err error, extra Extra) {
	msg := m.message(err, extra)
	if sendErr := m.send(msg); sendErr != nil {
		slog.Error("Error sending exception email",
			"err", sendErr.Error(),
			"cause", err.Error(),
		)
	}
}

func (m *Mailer) message(err error, extra Extra) *mail.Message {
	var body strings.Builder
	body.WriteString(err.Error())
	body.WriteString("\n\n")
	for _, k := range sortedKeys(extra) {
		fmt.Fprintf(&body, "%s: %v\n", k, extra[k])
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", fmt.Sprintf("%s %s", m.Subject, firstLine(err.Error())))
	msg.SetBody("text/plain", body.String())
	return msg
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (mn Multi) Notify(err error, extra Extra) {
	for _, n := range mn {
		n.Notify(err, extra)
	}
}

type Notification struct {
	Err   error
	Extra Extra
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Notify(err error, extra Extra) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Notification{Err: err, Extra: extra})
}

func (r *Recorder) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func sortedKeys(extra Extra) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
