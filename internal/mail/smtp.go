package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strconv"

	"farmmarket/internal/config"
)

type SMTPSender struct {
	host     string
	port     int
	user     string
	password string
	from     string
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.From,
		send:     smtp.SendMail,
	}
}

// NewSender picks SMTP when a host is configured and falls back to logging.
func NewSender(cfg config.MailConfig, fallback Sender) Sender {
	if cfg.SMTPHost == "" {
		return fallback
	}
	return NewSMTPSender(cfg)
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if s.host == "" {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if s.user != "" {
		auth = smtp.PlainAuth("", s.user, s.password, s.host)
	}

	addr := s.host + ":" + strconv.Itoa(s.port)
	if err := s.send(addr, auth, s.from, []string{msg.To}, s.build(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

func (s *SMTPSender) build(msg Message) []byte {
	return []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.from, msg.To, msg.Subject, msg.HTML,
	))
}
