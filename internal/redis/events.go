package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"chathistory/internal/models"
)

// EventsChannel is the pub/sub channel conversation events are sent on.
const EventsChannel = "chathistory:events"

type EventType string

const (
	EventConversationCreated EventType = "conversation.created"
	EventConversationDeleted EventType = "conversation.deleted"
	EventMessageCreated      EventType = "message.created"
)

// Event is the JSON payload published after a successful write.
type Event struct {
	Type           EventType   `json:"type"`
	ConversationID int64       `json:"conversation_id"`
	MessageID      int64       `json:"message_id,omitempty"`
	Role           models.Role `json:"role,omitempty"`
	At             time.Time   `json:"at"`
}

// Publisher broadcasts events. A nil *Publisher is valid and drops everything.
type Publisher struct {
	client *Client
	logger *zap.Logger
}

func NewPublisher(client *Client, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, logger: logger}
}

// Publish is best-effort: failures are logged and never returned.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil || p.client == nil {
		return
	}
	raw := p.client.Raw()
	if raw == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("marshal event failed", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if err := raw.Publish(ctx, EventsChannel, payload).Err(); err != nil {
		p.logger.Warn("publish event failed",
			zap.String("type", string(ev.Type)),
			zap.Int64("conversation_id", ev.ConversationID),
			zap.Error(err),
		)
	}
}

// Subscribe delivers decoded events to handler until ctx is done.
// It returns once the subscription is confirmed.
func Subscribe(ctx context.Context, client *Client, logger *zap.Logger, handler func(Event)) error {
	raw := client.Raw()
	if raw == nil {
		return fmt.Errorf("redis client not initialized")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	pubsub := raw.Subscribe(ctx, EventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", EventsChannel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn("decode event failed", zap.Error(err))
					continue
				}
				handler(ev)
			}
		}
	}()
	return nil
}
