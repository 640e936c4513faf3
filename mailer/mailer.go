// Package mailer delivers protocol email over SMTP.
package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"

	accounts "github.com/veridian-labs/go-accounts"
)

// Config holds SMTP settings. Values are injected by the caller; this
// package never reads the environment.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("missing SMTP host")
	}
	if c.Port == 0 {
		return fmt.Errorf("missing SMTP port")
	}
	if c.From == "" {
		return fmt.Errorf("missing SMTP from address")
	}
	return nil
}

// SMTP sends mail through a gomail dialer.
type SMTP struct {
	config Config
	dialer *gomail.Dialer
}

var _ accounts.Mailer = (*SMTP)(nil)

// NewSMTP creates a sender for the given configuration.
func NewSMTP(cfg Config) (*SMTP, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &SMTP{
		config: cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// Send delivers one message. The text body is attached as an alternative
// when an HTML body is present.
func (m *SMTP) Send(msg accounts.Email) error {
	if msg.To == "" {
		return fmt.Errorf("no recipient specified")
	}

	out := gomail.NewMessage()
	out.SetHeader("From", m.config.From)
	out.SetHeader("To", msg.To)
	out.SetHeader("Subject", msg.Subject)

	if msg.HTML != "" {
		out.SetBody("text/html", msg.HTML)
		if msg.Text != "" {
			out.AddAlternative("text/plain", msg.Text)
		}
	} else {
		out.SetBody("text/plain", msg.Text)
	}

	return m.dialer.DialAndSend(out)
}
