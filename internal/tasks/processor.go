package tasks

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"farmmarket/internal/mail"
)

// Processor executes outbox tasks.
type Processor struct {
	sender mail.Sender
	logger zerolog.Logger
}

func NewProcessor(sender mail.Sender, logger zerolog.Logger) *Processor {
	return &Processor{
		sender: sender,
		logger: logger,
	}
}

// Handle returns an error only for failures worth retrying. Malformed and
// unknown tasks are logged and acknowledged.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	taskType, message, err := mail.DecodeTask(msg.Values)
	if err != nil {
		p.logger.Error().Err(err).Str("message_id", msg.ID).Msg("discarding malformed task")
		return nil
	}

	switch taskType {
	case mail.TaskSendEmail:
		return p.handleSendEmail(ctx, msg.ID, message)
	default:
		p.logger.Warn().Str("type", taskType).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handleSendEmail(ctx context.Context, id string, message mail.Message) error {
	if message.To == "" {
		p.logger.Error().Str("message_id", id).Msg("discarding email without recipient")
		return nil
	}
	if err := p.sender.Send(ctx, message); err != nil {
		return fmt.Errorf("send %q to %s: %w", message.Subject, message.To, err)
	}
	p.logger.Info().Str("message_id", id).Str("to", message.To).Str("subject", message.Subject).Msg("email sent")
	return nil
}
