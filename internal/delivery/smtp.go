package delivery

import (
	"context"
	"errors"
	"fmt"
	netmail "net/mail"
	"net/textproto"
	"time"

	"gopkg.in/mail.v2"

	"github.com/samims/keepsake/internal/config"
	appErr "github.com/samims/keepsake/internal/errors"
)

const defaultSMTPTimeout = 10 * time.Second

// SMTPChannel delivers keepsakes by email.
type SMTPChannel struct {
	cfg  config.SMTPConfig
	send func(d *mail.Dialer, m *mail.Message) error
	dial func(d *mail.Dialer) (mail.SendCloser, error)
}

// NewSMTPChannel creates an email channel for the given server.
func NewSMTPChannel(cfg config.SMTPConfig) *SMTPChannel {
	return &SMTPChannel{
		cfg: cfg,
		send: func(d *mail.Dialer, m *mail.Message) error {
			return d.DialAndSend(m)
		},
		dial: func(d *mail.Dialer) (mail.SendCloser, error) {
			return d.Dial()
		},
	}
}

func (c *SMTPChannel) Name() string { return "email" }

// Send validates the address, then hands the message to the SMTP server.
// The dialer has no context support so the context deadline becomes its timeout.
func (c *SMTPChannel) Send(ctx context.Context, msg Message) error {
	addr, err := netmail.ParseAddress(msg.To)
	if err != nil {
		return appErr.Permanent("email address", fmt.Errorf("%q: %w", msg.To, err))
	}
	if err := ctx.Err(); err != nil {
		return appErr.Transient("email send", err)
	}

	m := mail.NewMessage()
	m.SetHeader("From", c.cfg.From)
	m.SetAddressHeader("To", addr.Address, msg.Name)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@keepsake>", msg.IdempotencyKey))
	m.SetHeader("X-Idempotency-Key", msg.IdempotencyKey.String())
	m.SetBody("text/plain", msg.Body)

	if err := c.send(c.dialer(ctx), m); err != nil {
		return classifySMTPError(err)
	}
	return nil
}

// Ping opens and closes an SMTP session.
func (c *SMTPChannel) Ping(ctx context.Context) error {
	sc, err := c.dial(c.dialer(ctx))
	if err != nil {
		return err
	}
	return sc.Close()
}

func (c *SMTPChannel) dialer(ctx context.Context) *mail.Dialer {
	d := mail.NewDialer(c.cfg.Host, c.cfg.Port, c.cfg.Username, c.cfg.Password)
	d.Timeout = defaultSMTPTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			d.Timeout = remaining
		}
	}
	return d
}

// classifySMTPError maps 5xx replies to permanent failures; 4xx replies and
// transport errors may clear up before the next run.
func classifySMTPError(err error) error {
	cause := err
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && sendErr.Cause != nil {
		cause = sendErr.Cause
	}

	var tpErr *textproto.Error
	if errors.As(cause, &tpErr) && tpErr.Code >= 500 {
		return appErr.Permanent("email send", err)
	}

	return appErr.Transient("email send", err)
}
