package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
)

// SMTPSender sends mail through a plain SMTP relay.
type SMTPSender struct {
	Addr     string
	From     string
	Username string
	Password string

	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender returns a sender for addr (host:port).
func NewSMTPSender(addr, from, username, password string) *SMTPSender {
	return &SMTPSender{
		Addr:     addr,
		From:     from,
		Username: username,
		Password: password,
		send:     smtp.SendMail,
	}
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.Username != "" {
		host, _, err := net.SplitHostPort(s.Addr)
		if err != nil {
			return fmt.Errorf("parse smtp address: %w", err)
		}
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Body)

	return s.send(s.Addr, auth, s.From, []string{msg.To}, []byte(b.String()))
}

// ResilientSender retries transient failures with exponential backoff and
// stops calling a relay that keeps failing.
type ResilientSender struct {
	next     Sender
	breaker  *gobreaker.CircuitBreaker
	maxTries uint
	backoff  func() backoff.BackOff
}

// NewResilientSender wraps next with a circuit breaker and retries.
func NewResilientSender(next Sender) *ResilientSender {
	return &ResilientSender{
		next: next,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "smtp",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		maxTries: 4,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
	}
}

func (s *ResilientSender) Send(ctx context.Context, msg Message) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.next.Send(ctx, msg)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(s.backoff()), backoff.WithMaxTries(s.maxTries))
	return err
}
