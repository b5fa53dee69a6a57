package mail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const TaskSendEmail = "send_email"

// Outbox hands messages to the worker through a redis stream. Enqueue
// returning nil means the message is durable, not that it was delivered.
type Outbox struct {
	client *redis.Client
	stream string
}

func NewOutbox(client *redis.Client, stream string) *Outbox {
	return &Outbox{client: client, stream: stream}
}

func (o *Outbox) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	_, err = o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		Values: map[string]any{
			"type":    TaskSendEmail,
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", o.stream, err)
	}
	return nil
}

// DecodeTask reads a message written by Outbox.Send.
func DecodeTask(values map[string]any) (string, Message, error) {
	taskType, _ := values["type"].(string)
	raw, _ := values["payload"].(string)
	if taskType == "" {
		return "", Message{}, fmt.Errorf("task without type")
	}

	var msg Message
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return taskType, Message{}, fmt.Errorf("decode payload: %w", err)
		}
	}
	return taskType, msg, nil
}
