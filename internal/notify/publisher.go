package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
)

// Channel delivers a processing event to one destination. Implementations
// must be safe for concurrent use.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, event models.ProcessingEvent) error
}

// Publisher fans processing events out to its channels. Delivery is
// fire-and-forget: a publish never blocks or fails the pipeline. Each
// channel gets one retry; after that the event is dropped with a warning.
type Publisher struct {
	channels []Channel
	log      *slog.Logger
	timeout  time.Duration
	retryGap time.Duration

	wg sync.WaitGroup
}

// NewPublisher builds a publisher over the given channels.
func NewPublisher(log *slog.Logger, channels ...Channel) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		channels: channels,
		log:      log,
		timeout:  5 * time.Second,
		retryGap: time.Second,
	}
}

// Publish dispatches the event to every channel asynchronously and
// returns immediately.
func (p *Publisher) Publish(event models.ProcessingEvent) {
	for _, ch := range p.channels {
		p.wg.Add(1)
		go func(ch Channel) {
			defer p.wg.Done()
			p.deliver(ch, event)
		}(ch)
	}
}

func (p *Publisher) deliver(ch Channel, event models.ProcessingEvent) {
	for attempt := 1; attempt <= 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := ch.Deliver(ctx, event)
		cancel()
		if err == nil {
			return
		}
		if attempt == 1 {
			time.Sleep(p.retryGap)
			continue
		}
		p.log.Warn("dropping notification after retry",
			"channel", ch.Name(),
			"order_id", event.OrderID,
			"event_kind", event.Kind,
			"correlation_id", event.CorrelationID,
			"error", err)
	}
}

// Wait blocks until all in-flight deliveries finish. Used on shutdown
// and in tests.
func (p *Publisher) Wait() { p.wg.Wait() }
