package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	t.Run("Given the happy path When walked edge by edge Then every step is legal", func(t *testing.T) {
		path := []Status{
			StatusReceived, StatusExtracting, StatusExtracted,
			StatusMatching, StatusMatched, StatusPaymentInitiating,
			StatusPaymentInitiated, StatusPaymentCompleted,
		}
		for i := 0; i < len(path)-1; i++ {
			if !path[i].CanTransitionTo(path[i+1]) {
				t.Errorf("expected %s -> %s to be legal", path[i], path[i+1])
			}
		}
	})

	t.Run("Given RECEIVED When jumping straight to MATCHED Then the edge is rejected", func(t *testing.T) {
		if StatusReceived.CanTransitionTo(StatusMatched) {
			t.Error("RECEIVED -> MATCHED must not be a legal edge")
		}
	})

	t.Run("Given a terminal state When any transition is attempted Then it is rejected", func(t *testing.T) {
		for _, s := range []Status{StatusPaymentCompleted, StatusPaymentFailed, StatusCancelled, StatusError} {
			if !s.Terminal() {
				t.Errorf("%s should be terminal", s)
			}
			if s.CanTransitionTo(StatusReceived) || s.CanTransitionTo(StatusError) {
				t.Errorf("%s must not allow outgoing transitions", s)
			}
		}
	})

	t.Run("Given every non-terminal state When cancelling Then CANCELLED is reachable", func(t *testing.T) {
		for s, next := range transitions {
			if len(next) == 0 {
				continue
			}
			if !s.CanTransitionTo(StatusCancelled) {
				t.Errorf("%s should allow cancellation", s)
			}
		}
	})
}

func TestStatus_PaymentIssued(t *testing.T) {
	if !StatusPaymentInitiated.PaymentIssued() {
		t.Error("PAYMENT_INITIATED should report an issued payment link")
	}
	for _, s := range []Status{StatusReceived, StatusExtracting, StatusExtracted, StatusMatching, StatusMatched, StatusPaymentInitiating} {
		if s.PaymentIssued() {
			t.Errorf("%s should still be reprocessable", s)
		}
	}
}

func TestEventKindFor(t *testing.T) {
	cases := map[Status]EventKind{
		StatusExtracted:        EventItemsExtracted,
		StatusMatched:          EventItemsMatched,
		StatusPaymentInitiated: EventPaymentInitiated,
		StatusError:            EventProcessingError,
		StatusCancelled:        EventOrderCancelled,
	}
	for s, want := range cases {
		if got := EventKindFor(s); got != want {
			t.Errorf("EventKindFor(%s) = %s, want %s", s, got, want)
		}
	}
}

func TestOrder_RecalculateTotal(t *testing.T) {
	pid := "prod-1"
	o := NewOrder("", "cust@example.com", "2 cups milk", "")
	o.MatchedItems = []MatchedItem{
		{ProductID: &pid, LineTotalMinor: 1000, TaxMinor: 75, Available: true},
		{ProductID: nil, LineTotalMinor: 0},
		{ProductID: &pid, LineTotalMinor: 500, TaxMinor: 0, Available: true},
	}

	o.RecalculateTotal()

	if o.TotalMinor != 1575 {
		t.Errorf("total = %d, want 1575 (unmatched items excluded)", o.TotalMinor)
	}
	if o.PayableItems() != 2 {
		t.Errorf("payable items = %d, want 2", o.PayableItems())
	}
}

func TestNewOrder(t *testing.T) {
	o := NewOrder("", "cust@example.com", "1 loaf bread", "")

	if o.ID == "" || o.CorrelationID == "" {
		t.Error("expected generated ids")
	}
	if o.Status != StatusReceived {
		t.Errorf("status = %s, want RECEIVED", o.Status)
	}
	if o.Version != 1 {
		t.Errorf("version = %d, want 1", o.Version)
	}
}

func TestMatchedItem_Matched(t *testing.T) {
	var m MatchedItem
	if m.Matched() {
		t.Error("nil product id should report unmatched")
	}
	m.Extracted.Quantity = decimal.NewFromInt(2)
	pid := "p"
	m.ProductID = &pid
	if !m.Matched() {
		t.Error("set product id should report matched")
	}
}
