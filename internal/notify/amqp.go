package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
)

// EventPublisher is satisfied by the queue client.
type EventPublisher interface {
	PublishEvent(ctx context.Context, correlationID string, payload []byte) error
}

// BrokerChannel delivers processing events to the message broker so
// other services can subscribe to order progress.
type BrokerChannel struct {
	pub EventPublisher
}

// NewBrokerChannel wraps a broker publisher as a notification channel.
func NewBrokerChannel(pub EventPublisher) *BrokerChannel {
	return &BrokerChannel{pub: pub}
}

func (b *BrokerChannel) Name() string { return "broker" }

func (b *BrokerChannel) Deliver(ctx context.Context, event models.ProcessingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.pub.PublishEvent(ctx, event.CorrelationID, payload)
}
