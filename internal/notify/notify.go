// Package notify delivers account emails. Delivery is fire-and-forget from
// the caller's point of view: Mailer queues a goroutine per message and
// logs failures.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender performs the actual delivery.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

const activationSubject = "Account activation"

var activationTemplate = template.Must(template.New("activate_account").Parse(`<!DOCTYPE html>
<html>
<body>
<p>Hello {{.Name}},</p>
<p>Your account has been created. Use the code below to activate it:</p>
<p><strong>{{.Code}}</strong></p>
<p>The code expires in {{.ValidFor}}. You can also activate it at <a href="{{.URL}}">{{.URL}}</a>.</p>
</body>
</html>
`))

type activationData struct {
	Name     string
	Code     string
	URL      string
	ValidFor string
}

// Mailer renders templates and hands messages to a Sender in the background.
type Mailer struct {
	sender        Sender
	log           *zap.Logger
	activationURL string
	timeout       time.Duration
	wg            sync.WaitGroup
}

// NewMailer creates a Mailer. activationURL is linked from activation mails.
func NewMailer(sender Sender, log *zap.Logger, activationURL string) *Mailer {
	return &Mailer{
		sender:        sender,
		log:           log,
		activationURL: activationURL,
		timeout:       30 * time.Second,
	}
}

// SendActivationCode renders the activation email and dispatches it
// asynchronously. Only rendering errors are returned.
func (m *Mailer) SendActivationCode(to, name, code string, validFor time.Duration) error {
	var body bytes.Buffer
	err := activationTemplate.Execute(&body, activationData{
		Name:     name,
		Code:     code,
		URL:      m.activationURL,
		ValidFor: validFor.String(),
	})
	if err != nil {
		return fmt.Errorf("render activation email: %w", err)
	}

	m.dispatch(Message{To: to, Subject: activationSubject, Body: body.String()})
	return nil
}

func (m *Mailer) dispatch(msg Message) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		if err := m.sender.Send(ctx, msg); err != nil {
			m.log.Error("failed to deliver email",
				zap.String("to", msg.To),
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}
		m.log.Info("email delivered", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	}()
}

// Wait blocks until queued deliveries finish.
func (m *Mailer) Wait() {
	m.wg.Wait()
}

// LogSender writes messages to the log instead of sending them. It is used
// when no SMTP server is configured.
type LogSender struct {
	Log *zap.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.Info("email (not sent, no SMTP configured)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body),
	)
	return nil
}
