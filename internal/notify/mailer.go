package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"voice-guard-go/internal/config"
)

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

// SMTPMailer submits one message per Send over an authenticated connection.
// A client is built per message so concurrent sends never share a session.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg config.SMTPConfig) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("smtp: host, username and password are required")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPMailer{cfg: cfg}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, e Email) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if err := m.To(e.To); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	m.Subject(e.Subject)
	m.SetBodyString(mail.TypeTextPlain, e.Body)
	for _, a := range e.Attachments {
		m.AttachFile(a.Path, mail.WithFileName(a.Name))
	}

	c, err := mail.NewClient(s.cfg.Host,
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Throttled spaces out submissions so a burst of incidents stays under the
// provider's sending limits.
type Throttled struct {
	next    Mailer
	limiter *rate.Limiter
}

var _ Mailer = (*Throttled)(nil)

func NewThrottled(next Mailer, perSecond float64, burst int) *Throttled {
	if burst <= 0 {
		burst = 1
	}
	return &Throttled{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (t *Throttled) Send(ctx context.Context, e Email) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail rate limit: %w", err)
	}
	return t.next.Send(ctx, e)
}
