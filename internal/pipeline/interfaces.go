package pipeline

import (
	"context"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/catalog"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/payments"
)

// Extractor turns free-text grocery requests into structured items.
type Extractor interface {
	ExtractItems(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error)
}

// Matcher resolves extracted items against the catalog. Pure; no I/O.
type Matcher interface {
	MatchAll(items []models.ExtractedItem, cat *catalog.Catalog) []models.MatchedItem
}

// PaymentGateway initializes and verifies payments.
type PaymentGateway interface {
	InitializePayment(ctx context.Context, req payments.InitRequest) (*payments.InitResponse, error)
	VerifyTransaction(ctx context.Context, reference string) (*payments.VerifyResponse, error)
}

// OrderStore persists orders with optimistic concurrency.
type OrderStore interface {
	Get(ctx context.Context, orderID string) (*models.Order, error)
	GetByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	Create(ctx context.Context, o *models.Order) error
	ConditionalPut(ctx context.Context, o *models.Order, expectedVersion int64) error
}

// Notifier fans processing events out to interested parties.
type Notifier interface {
	Publish(event models.ProcessingEvent)
}
