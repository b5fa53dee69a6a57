package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmmarket/internal/mail"
)

type fakeSender struct {
	sent []mail.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func emailTask(t *testing.T, msg mail.Message) redis.XMessage {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return redis.XMessage{ID: "1-0", Values: map[string]any{"type": mail.TaskSendEmail, "payload": string(raw)}}
}

func TestProcessor_SendsEmail(t *testing.T) {
	sender := &fakeSender{}
	p := NewProcessor(sender, zerolog.Nop())

	msg := mail.Message{To: "a@example.com", Subject: "Verify your email address", HTML: "<p>hi</p>"}
	require.NoError(t, p.Handle(context.Background(), emailTask(t, msg)))
	assert.Equal(t, []mail.Message{msg}, sender.sent)
}

func TestProcessor_SendFailureIsRetryable(t *testing.T) {
	boom := errors.New("451 try later")
	p := NewProcessor(&fakeSender{err: boom}, zerolog.Nop())

	err := p.Handle(context.Background(), emailTask(t, mail.Message{To: "a@example.com"}))
	assert.ErrorIs(t, err, boom)
}

func TestProcessor_DiscardsUnusableTasks(t *testing.T) {
	sender := &fakeSender{}
	p := NewProcessor(sender, zerolog.Nop())
	ctx := context.Background()

	assert.NoError(t, p.Handle(ctx, redis.XMessage{ID: "1-0", Values: map[string]any{}}))
	assert.NoError(t, p.Handle(ctx, redis.XMessage{ID: "2-0", Values: map[string]any{"type": "resize_image"}}))
	assert.NoError(t, p.Handle(ctx, emailTask(t, mail.Message{Subject: "no recipient"})))
	assert.Empty(t, sender.sent)
}
