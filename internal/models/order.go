package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxRawTextLength bounds the accepted grocery list text.
const MaxRawTextLength = 10000

// ExtractedItem is one candidate item pulled out of the raw text by the
// extraction service. Immutable once produced.
type ExtractedItem struct {
	Name           string          `json:"name"`
	Quantity       decimal.Decimal `json:"quantity"`
	Unit           string          `json:"unit"`
	Specifications []string        `json:"specifications,omitempty"`
	Confidence     float64         `json:"confidence"`
	SourceText     string          `json:"source_text,omitempty"`
	NeedsReview    bool            `json:"needs_review,omitempty"`
}

// MatchedItem is the catalog resolution of one extracted item. A nil
// ProductID means no catalog entry matched; the item stays visible but
// contributes nothing to the order total.
type MatchedItem struct {
	Extracted      ExtractedItem `json:"extracted_item"`
	ProductID      *string       `json:"product_id"`
	ProductName    string        `json:"product_name,omitempty"`
	UnitPriceMinor int64         `json:"unit_price_minor"`
	LineTotalMinor int64         `json:"line_total_minor"`
	TaxMinor       int64         `json:"tax_minor"`
	Available      bool          `json:"available"`
	Confidence     float64       `json:"match_confidence"`
	Alternatives   []string      `json:"alternative_products,omitempty"`
}

// Matched reports whether a catalog product was resolved.
func (m MatchedItem) Matched() bool { return m.ProductID != nil }

// Order tracks one customer submission from raw text to payment outcome.
// All monetary amounts are integer minor units in Currency.
type Order struct {
	ID               string          `json:"id"`
	CustomerRef      string          `json:"customer_ref"`
	RawText          string          `json:"raw_text"`
	Status           Status          `json:"status"`
	ExtractedItems   []ExtractedItem `json:"extracted_items,omitempty"`
	MatchedItems     []MatchedItem   `json:"matched_items,omitempty"`
	TotalMinor       int64           `json:"total_minor"`
	Currency         string          `json:"currency"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	PaymentLink      string          `json:"payment_link,omitempty"`
	PaymentExpiresAt *time.Time      `json:"payment_expires_at,omitempty"`
	ErrorDetail      string          `json:"error_detail,omitempty"`
	Version          int64           `json:"version"`
	CorrelationID    string          `json:"correlation_id"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewOrder creates an order in RECEIVED with a fresh id when none is given.
func NewOrder(id, customerRef, rawText, correlationID string) *Order {
	if id == "" {
		id = uuid.NewString()
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Order{
		ID:            id,
		CustomerRef:   customerRef,
		RawText:       rawText,
		Status:        StatusReceived,
		Currency:      "NGN",
		Version:       1,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// PayableItems counts matched items that carry a product and a price.
func (o *Order) PayableItems() int {
	n := 0
	for _, m := range o.MatchedItems {
		if m.Matched() {
			n++
		}
	}
	return n
}

// RecalculateTotal sums line totals plus tax over matched items.
func (o *Order) RecalculateTotal() {
	var total int64
	for _, m := range o.MatchedItems {
		if m.Matched() {
			total += m.LineTotalMinor + m.TaxMinor
		}
	}
	o.TotalMinor = total
}

// EventSnapshot is the subset of order fields carried on a ProcessingEvent.
type EventSnapshot struct {
	Status           Status `json:"status"`
	ExtractedCount   int    `json:"extracted_count"`
	MatchedCount     int    `json:"matched_count"`
	TotalMinor       int64  `json:"total_minor"`
	Currency         string `json:"currency"`
	PaymentLink      string `json:"payment_link,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	ErrorDetail      string `json:"error_detail,omitempty"`
}

// ProcessingEvent is the change notification emitted after each committed
// transition. Ephemeral: never persisted by the pipeline.
type ProcessingEvent struct {
	OrderID       string        `json:"order_id"`
	Kind          EventKind     `json:"event_kind"`
	Message       string        `json:"message,omitempty"`
	Snapshot      EventSnapshot `json:"snapshot"`
	CorrelationID string        `json:"correlation_id"`
	Timestamp     time.Time     `json:"timestamp"`
}

// SnapshotOf captures the event payload for the order's current state.
func SnapshotOf(o *Order) EventSnapshot {
	return EventSnapshot{
		Status:           o.Status,
		ExtractedCount:   len(o.ExtractedItems),
		MatchedCount:     len(o.MatchedItems),
		TotalMinor:       o.TotalMinor,
		Currency:         o.Currency,
		PaymentLink:      o.PaymentLink,
		PaymentReference: o.PaymentReference,
		ErrorDetail:      o.ErrorDetail,
	}
}
