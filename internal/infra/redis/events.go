package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/printguard/internal/core/domain"
)

// EventPublisher fans lifecycle events out over Redis pub/sub as JSON.
type EventPublisher struct {
	client *Client
}

// NewEventPublisher creates a publisher on the client's events channel.
func NewEventPublisher(client *Client) *EventPublisher {
	return &EventPublisher{client: client}
}

// Channel returns the pub/sub channel events are sent to.
func (p *EventPublisher) Channel() string {
	return p.client.eventsChannel()
}

// Publish sends ev to the events channel.
func (p *EventPublisher) Publish(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.rdb.Publish(ctx, p.Channel(), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
