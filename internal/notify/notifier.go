package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	"rollcall/attendance/internal/logging"
	"rollcall/attendance/internal/metrics"
)

var (
	welcomeTmpl = template.Must(template.New("welcome").Parse(
		`<p>Hello {{.Name}},</p><p>An account was created for you with the role <b>{{.Role}}</b>.</p>` +
			`<p>Sign in with <b>{{.Email}}</b> and the temporary password <code>{{.Password}}</code>, then change it.</p>`))
	passwordChangedTmpl = template.Must(template.New("changed").Parse(
		`<p>Hello {{.Name}},</p><p>Your password was changed on {{.At}}. If this was not you, contact an administrator.</p>`))
	passwordResetTmpl = template.Must(template.New("reset").Parse(
		`<p>Hello {{.Name}},</p><p>Your password was reset. Your temporary password is <code>{{.Password}}</code>.</p>`))
)

// Notifier renders account emails and sends them in the background.
type Notifier struct {
	mailer  Mailer
	timeout time.Duration
	log     logging.Logger
	wg      sync.WaitGroup
}

func NewNotifier(mailer Mailer, timeout time.Duration, log logging.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Notifier{mailer: mailer, timeout: timeout, log: log}
}

type Recipient struct {
	Name  string
	Email string
}

func (n *Notifier) Welcome(to Recipient, role, password string) {
	n.render(to, "Your attendance account", welcomeTmpl, map[string]string{
		"Name": to.Name, "Email": to.Email, "Role": role, "Password": password,
	}, fmt.Sprintf("Hello %s, your account (%s) was created. Temporary password: %s", to.Name, role, password))
}

func (n *Notifier) PasswordChanged(to Recipient, at time.Time) {
	stamp := at.UTC().Format(time.RFC1123)
	n.render(to, "Your password was changed", passwordChangedTmpl, map[string]string{
		"Name": to.Name, "At": stamp,
	}, fmt.Sprintf("Hello %s, your password was changed on %s.", to.Name, stamp))
}

func (n *Notifier) PasswordReset(to Recipient, password string) {
	n.render(to, "Your password was reset", passwordResetTmpl, map[string]string{
		"Name": to.Name, "Password": password,
	}, fmt.Sprintf("Hello %s, your temporary password is %s", to.Name, password))
}

func (n *Notifier) render(to Recipient, subject string, tmpl *template.Template, data map[string]string, text string) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		n.log.Error(context.Background(), "render email", "template", tmpl.Name(), "err", err)
		return
	}
	n.Send(Message{To: to.Email, Subject: subject, HTML: buf.String(), Text: text})
}

// Send delivers msg on its own goroutine and returns immediately.
func (n *Notifier) Send(msg Message) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.mailer.Send(ctx, msg); err != nil {
			metrics.NotificationsSent.WithLabelValues("failed").Inc()
			n.log.Warn(ctx, "send email", "to", msg.To, "subject", msg.Subject, "err", err)
			return
		}
		metrics.NotificationsSent.WithLabelValues("sent").Inc()
	}()
}

// Wait blocks until pending sends finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
