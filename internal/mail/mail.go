package mail

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

var ErrNotConfigured = errors.New("smtp not configured")

type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender only logs. It stands in for SMTP when no host is configured.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("mail delivery skipped, smtp not configured")
	return nil
}
