package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/matching"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/payments"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/queue"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/resilience"
)

type testRig struct {
	orchestrator *Orchestrator
	store        *memStore
	extractor    *fakeExtractor
	gateway      *fakeGateway
	notifier     *fakeNotifier
}

func newTestRig(extract func(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error)) *testRig {
	st := newMemStore()
	ex := &fakeExtractor{fn: extract}
	gw := &fakeGateway{
		initFn: func(ctx context.Context, req payments.InitRequest) (*payments.InitResponse, error) {
			return &payments.InitResponse{
				PaymentReference: req.Reference,
				PaymentLink:      "https://pay.example.com/" + req.Reference,
				Status:           payments.TxnPending,
				ExpiresAt:        req.ExpiresAt,
			}, nil
		},
	}
	nt := &fakeNotifier{}
	o := New(Deps{
		Store:       st,
		Extractor:   ex,
		Matcher:     matching.NewEngine(matching.DefaultConfig(), matching.DefaultTaxPolicy()),
		Gateway:     gw,
		Notifier:    nt,
		Catalog:     testCatalog(),
		ExtractExec: fastExecutor("extraction"),
		PaymentExec: fastExecutor("payments"),
		Logger:      quietLogger(),
	})
	return &testRig{orchestrator: o, store: st, extractor: ex, gateway: gw, notifier: nt}
}

func groceryExtractor(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error) {
	return []models.ExtractedItem{
		{Name: "Milk", Quantity: decimal.NewFromInt(2), Unit: "cup", Confidence: 0.95, SourceText: "2 cups milk"},
		{Name: "Bread", Quantity: decimal.NewFromInt(1), Unit: "loaf", Confidence: 0.9, SourceText: "1 loaf bread"},
	}, nil
}

func submission(orderID string) queue.InboundMessage {
	return queue.InboundMessage{
		OrderID:       orderID,
		CustomerRef:   "customer@example.com",
		RawText:       "2 cups milk, 1 loaf bread",
		CorrelationID: "corr-" + orderID,
	}
}

func TestOrchestrator_Process_HappyPath(t *testing.T) {
	rig := newTestRig(groceryExtractor)
	ctx := context.Background()

	disposition, _ := rig.orchestrator.Process(ctx, submission("ord-1"))

	if disposition != queue.Ack {
		t.Fatalf("expected Ack, got %v", disposition)
	}

	order, err := rig.store.Get(ctx, "ord-1")
	if err != nil {
		t.Fatalf("failed to load order: %v", err)
	}

	if order.Status != models.StatusPaymentInitiated {
		t.Errorf("expected PAYMENT_INITIATED, got %s", order.Status)
	}
	// 2 x 50000 dairy (7.5% tax) + 1 x 120000 basic_foods (exempt).
	if order.TotalMinor != 227500 {
		t.Errorf("expected total 227500, got %d", order.TotalMinor)
	}
	if order.PaymentLink == "" {
		t.Error("expected a payment link")
	}
	wantRef := payments.IdempotencyKey("ord-1", 227500, "NGN")
	if order.PaymentReference != wantRef {
		t.Errorf("expected deterministic reference %s, got %s", wantRef, order.PaymentReference)
	}
	if order.PaymentExpiresAt == nil {
		t.Fatal("expected payment expiry to be set")
	}
	if until := time.Until(*order.PaymentExpiresAt); until < 23*time.Hour || until > 25*time.Hour {
		t.Errorf("expected ~24h link validity, got %v", until)
	}

	wantKinds := []models.EventKind{
		models.EventOrderReceived,
		models.EventExtractionStarted,
		models.EventItemsExtracted,
		models.EventMatchingStarted,
		models.EventItemsMatched,
		models.EventPaymentInitiating,
		models.EventPaymentInitiated,
	}
	got := rig.notifier.kinds()
	if len(got) != len(wantKinds) {
		t.Fatalf("expected %d events, got %d: %v", len(wantKinds), len(got), got)
	}
	for i, k := range wantKinds {
		if got[i] != k {
			t.Errorf("event %d: expected %s, got %s", i, k, got[i])
		}
	}
}

func TestOrchestrator_Process_InvalidInput(t *testing.T) {
	t.Run("Given empty text, When processed, Then ERROR without any external call", func(t *testing.T) {
		rig := newTestRig(groceryExtractor)
		msg := submission("ord-1")
		msg.RawText = "   "

		disposition, _ := rig.orchestrator.Process(context.Background(), msg)

		if disposition != queue.Ack {
			t.Errorf("expected Ack, got %v", disposition)
		}
		order, _ := rig.store.Get(context.Background(), "ord-1")
		if order.Status != models.StatusError {
			t.Errorf("expected ERROR, got %s", order.Status)
		}
		if rig.extractor.callCount() != 0 {
			t.Errorf("expected no extraction call, got %d", rig.extractor.callCount())
		}
		if rig.gateway.initCallCount() != 0 {
			t.Errorf("expected no gateway call, got %d", rig.gateway.initCallCount())
		}
	})

	t.Run("Given oversized text, When processed, Then ERROR without any external call", func(t *testing.T) {
		rig := newTestRig(groceryExtractor)
		msg := submission("ord-1")
		msg.RawText = strings.Repeat("milk ", models.MaxRawTextLength)

		disposition, _ := rig.orchestrator.Process(context.Background(), msg)

		if disposition != queue.Ack {
			t.Errorf("expected Ack, got %v", disposition)
		}
		order, _ := rig.store.Get(context.Background(), "ord-1")
		if order.Status != models.StatusError {
			t.Errorf("expected ERROR, got %s", order.Status)
		}
		if rig.extractor.callCount() != 0 {
			t.Errorf("expected no extraction call, got %d", rig.extractor.callCount())
		}
	})
}

func TestOrchestrator_Process_ExtractionFailures(t *testing.T) {
	t.Run("Given persistent timeouts, When processed, Then ERROR and dead-letter after 3 attempts", func(t *testing.T) {
		rig := newTestRig(func(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error) {
			return nil, resilience.Classified(resilience.KindTimeout, errors.New("model timed out"))
		})

		disposition, reason := rig.orchestrator.Process(context.Background(), submission("ord-1"))

		if disposition != queue.DeadLetter {
			t.Fatalf("expected DeadLetter, got %v", disposition)
		}
		if reason == "" {
			t.Error("expected a dead-letter reason")
		}
		if rig.extractor.callCount() != 3 {
			t.Errorf("expected 3 extraction attempts, got %d", rig.extractor.callCount())
		}
		order, _ := rig.store.Get(context.Background(), "ord-1")
		if order.Status != models.StatusError {
			t.Errorf("expected ERROR, got %s", order.Status)
		}
		if order.ErrorDetail == "" {
			t.Error("expected error detail to be recorded")
		}
		if rig.gateway.initCallCount() != 0 {
			t.Errorf("expected no gateway call, got %d", rig.gateway.initCallCount())
		}
	})

	t.Run("Given rejected content, When processed, Then ERROR and ack without retries", func(t *testing.T) {
		rig := newTestRig(func(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error) {
			return nil, resilience.Classified(resilience.KindContentRejected, errors.New("blocked"))
		})

		disposition, _ := rig.orchestrator.Process(context.Background(), submission("ord-1"))

		if disposition != queue.Ack {
			t.Errorf("expected Ack, got %v", disposition)
		}
		if rig.extractor.callCount() != 1 {
			t.Errorf("expected a single extraction attempt, got %d", rig.extractor.callCount())
		}
		order, _ := rig.store.Get(context.Background(), "ord-1")
		if order.Status != models.StatusError {
			t.Errorf("expected ERROR, got %s", order.Status)
		}
	})

	t.Run("Given zero extracted items, When processed, Then matched empty and ERROR with no payable items", func(t *testing.T) {
		rig := newTestRig(func(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error) {
			return nil, nil
		})

		disposition, _ := rig.orchestrator.Process(context.Background(), submission("ord-1"))

		if disposition != queue.Ack {
			t.Errorf("expected Ack, got %v", disposition)
		}
		order, _ := rig.store.Get(context.Background(), "ord-1")
		if order.Status != models.StatusError {
			t.Errorf("expected ERROR, got %s", order.Status)
		}
		if order.ErrorDetail != "no payable items" {
			t.Errorf("unexpected error detail %q", order.ErrorDetail)
		}
		if len(order.MatchedItems) != 0 || order.TotalMinor != 0 {
			t.Errorf("expected empty match result, got %d items total %d",
				len(order.MatchedItems), order.TotalMinor)
		}
		// An empty extraction is still a valid result: the order walks
		// the matching edges before it settles.
		kinds := rig.notifier.kinds()
		want := []models.EventKind{
			models.EventOrderReceived,
			models.EventExtractionStarted,
			models.EventItemsExtracted,
			models.EventMatchingStarted,
			models.EventItemsMatched,
			models.EventProcessingError,
		}
		if len(kinds) != len(want) {
			t.Fatalf("expected %d events, got %v", len(want), kinds)
		}
		for i := range want {
			if kinds[i] != want[i] {
				t.Errorf("event %d: expected %s, got %s", i, want[i], kinds[i])
			}
		}
		if rig.gateway.initCallCount() != 0 {
			t.Errorf("expected no gateway call, got %d", rig.gateway.initCallCount())
		}
	})
}

func TestOrchestrator_Process_NoPayableItems(t *testing.T) {
	rig := newTestRig(func(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error) {
		return []models.ExtractedItem{
			{Name: "unicorn dust", Quantity: decimal.NewFromInt(1), Confidence: 0.9},
		}, nil
	})

	disposition, _ := rig.orchestrator.Process(context.Background(), submission("ord-1"))

	if disposition != queue.Ack {
		t.Errorf("expected Ack, got %v", disposition)
	}
	order, _ := rig.store.Get(context.Background(), "ord-1")
	if order.Status != models.StatusError {
		t.Errorf("expected ERROR, got %s", order.Status)
	}
	if len(order.MatchedItems) != 1 {
		t.Fatalf("expected the unmatched item to remain visible, got %d", len(order.MatchedItems))
	}
	if order.MatchedItems[0].Matched() {
		t.Error("expected item to be unmatched")
	}
	if rig.gateway.initCallCount() != 0 {
		t.Errorf("expected no gateway call, got %d", rig.gateway.initCallCount())
	}
}

func TestOrchestrator_Process_PaymentFailures(t *testing.T) {
	t.Run("Given a gateway validation rejection, When processed, Then PAYMENT_FAILED and ack", func(t *testing.T) {
		rig := newTestRig(groceryExtractor)
		rig.gateway.initFn = func(ctx context.Context, req payments.InitRequest) (*payments.InitResponse, error) {
			return nil, resilience.Classified(resilience.KindValidation, errors.New("invalid customer"))
		}

		disposition, _ := rig.orchestrator.Process(context.Background(), submission("ord-1"))

		if disposition != queue.Ack {
			t.Errorf("expected Ack, got %v", disposition)
		}
		order, _ := rig.store.Get(context.Background(), "ord-1")
		if order.Status != models.StatusPaymentFailed {
			t.Errorf("expected PAYMENT_FAILED, got %s", order.Status)
		}
		if rig.gateway.initCallCount() != 1 {
			t.Errorf("expected a single gateway attempt, got %d", rig.gateway.initCallCount())
		}
	})

	t.Run("Given a persistently unavailable gateway, When processed, Then ERROR and dead-letter", func(t *testing.T) {
		rig := newTestRig(groceryExtractor)
		rig.gateway.initFn = func(ctx context.Context, req payments.InitRequest) (*payments.InitResponse, error) {
			return nil, resilience.Classified(resilience.KindUnavailable, errors.New("gateway down"))
		}

		disposition, _ := rig.orchestrator.Process(context.Background(), submission("ord-1"))

		if disposition != queue.DeadLetter {
			t.Errorf("expected DeadLetter, got %v", disposition)
		}
		order, _ := rig.store.Get(context.Background(), "ord-1")
		if order.Status != models.StatusError {
			t.Errorf("expected ERROR, got %s", order.Status)
		}
		if rig.gateway.initCallCount() != 3 {
			t.Errorf("expected 3 gateway attempts, got %d", rig.gateway.initCallCount())
		}
	})
}

func TestOrchestrator_Process_Redelivery(t *testing.T) {
	rig := newTestRig(groceryExtractor)
	ctx := context.Background()
	msg := submission("ord-1")

	if d, _ := rig.orchestrator.Process(ctx, msg); d != queue.Ack {
		t.Fatalf("expected first delivery to ack, got %v", d)
	}

	disposition, _ := rig.orchestrator.Process(ctx, msg)

	if disposition != queue.Ack {
		t.Errorf("expected redelivery to ack, got %v", disposition)
	}
	if rig.extractor.callCount() != 1 {
		t.Errorf("expected no second extraction call, got %d", rig.extractor.callCount())
	}
	if rig.gateway.initCallCount() != 1 {
		t.Errorf("expected no second gateway call, got %d", rig.gateway.initCallCount())
	}
	order, _ := rig.store.Get(ctx, "ord-1")
	if order.Status != models.StatusPaymentInitiated {
		t.Errorf("expected PAYMENT_INITIATED preserved, got %s", order.Status)
	}
}

// seedOrder stores an order mid-pipeline, the way a crashed worker
// leaves it: the status edge committed but the delivery never acked.
func seedOrder(t *testing.T, st *memStore, status models.Status) *models.Order {
	t.Helper()
	msg := submission("ord-1")
	o := models.NewOrder(msg.OrderID, msg.CustomerRef, msg.RawText, msg.CorrelationID)
	o.Status = status
	if status != models.StatusReceived && status != models.StatusExtracting {
		items, _ := groceryExtractor(context.Background(), msg.RawText, msg.CorrelationID)
		o.ExtractedItems = items
	}
	if status == models.StatusMatched || status == models.StatusPaymentInitiating {
		milk, bread := "prod-milk", "prod-bread"
		o.MatchedItems = []models.MatchedItem{
			{Extracted: o.ExtractedItems[0], ProductID: &milk, LineTotalMinor: 100000, TaxMinor: 7500, Available: true, Confidence: 1},
			{Extracted: o.ExtractedItems[1], ProductID: &bread, LineTotalMinor: 120000, Available: true, Confidence: 1},
		}
		o.RecalculateTotal()
	}
	if err := st.Create(context.Background(), o); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return o
}

func TestOrchestrator_Process_ResumesAfterCrash(t *testing.T) {
	cases := []struct {
		status       models.Status
		wantExtracts int
	}{
		{models.StatusReceived, 1},
		{models.StatusExtracting, 1},
		{models.StatusExtracted, 0},
		{models.StatusMatching, 0},
		{models.StatusMatched, 0},
		{models.StatusPaymentInitiating, 0},
	}
	for _, tc := range cases {
		t.Run("Given an order left at "+string(tc.status)+", When redelivered, Then the pipeline resumes to PAYMENT_INITIATED", func(t *testing.T) {
			rig := newTestRig(groceryExtractor)
			ctx := context.Background()
			seedOrder(t, rig.store, tc.status)

			disposition, _ := rig.orchestrator.Process(ctx, submission("ord-1"))

			if disposition != queue.Ack {
				t.Fatalf("expected Ack, got %v", disposition)
			}
			order, _ := rig.store.Get(ctx, "ord-1")
			if order.Status != models.StatusPaymentInitiated {
				t.Errorf("expected PAYMENT_INITIATED, got %s", order.Status)
			}
			if got := rig.extractor.callCount(); got != tc.wantExtracts {
				t.Errorf("expected %d extraction calls, got %d", tc.wantExtracts, got)
			}
			if rig.gateway.initCallCount() != 1 {
				t.Errorf("expected exactly one gateway call, got %d", rig.gateway.initCallCount())
			}
			wantRef := payments.IdempotencyKey("ord-1", order.TotalMinor, order.Currency)
			if order.PaymentReference != wantRef {
				t.Errorf("expected deterministic reference %s, got %s", wantRef, order.PaymentReference)
			}
		})
	}

	t.Run("Given repeated redelivery at EXTRACTING, When processed, Then it never requeues", func(t *testing.T) {
		rig := newTestRig(groceryExtractor)
		ctx := context.Background()
		seedOrder(t, rig.store, models.StatusExtracting)

		for i := 0; i < 3; i++ {
			if d, _ := rig.orchestrator.Process(ctx, submission("ord-1")); d != queue.Ack {
				t.Fatalf("delivery %d: expected Ack, got %v", i, d)
			}
		}
		order, _ := rig.store.Get(ctx, "ord-1")
		if order.Status != models.StatusPaymentInitiated {
			t.Errorf("expected PAYMENT_INITIATED, got %s", order.Status)
		}
		if rig.extractor.callCount() != 1 {
			t.Errorf("expected a single extraction, got %d", rig.extractor.callCount())
		}
	})
}

func TestOrchestrator_Cancel(t *testing.T) {
	t.Run("Given a non-terminal order, When cancelled, Then CANCELLED", func(t *testing.T) {
		rig := newTestRig(groceryExtractor)
		ctx := context.Background()

		o := models.NewOrder("ord-1", "cust", "milk", "corr-1")
		if err := rig.store.Create(ctx, o); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		cancelled, err := rig.orchestrator.Cancel(ctx, "ord-1")
		if err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		if cancelled.Status != models.StatusCancelled {
			t.Errorf("expected CANCELLED, got %s", cancelled.Status)
		}
	})

	t.Run("Given a completed order, When cancelled, Then ErrOrderTerminal", func(t *testing.T) {
		rig := newTestRig(groceryExtractor)
		ctx := context.Background()

		if d, _ := rig.orchestrator.Process(ctx, submission("ord-1")); d != queue.Ack {
			t.Fatal("pipeline run failed")
		}
		order, _ := rig.store.Get(ctx, "ord-1")
		settleOrder(t, rig, order)

		_, err := rig.orchestrator.Cancel(ctx, "ord-1")
		if !errors.Is(err, ErrOrderTerminal) {
			t.Errorf("expected ErrOrderTerminal, got %v", err)
		}
	})

	t.Run("Given an unknown order, When cancelled, Then not found", func(t *testing.T) {
		rig := newTestRig(groceryExtractor)

		_, err := rig.orchestrator.Cancel(context.Background(), "no-such-order")
		if err == nil {
			t.Error("expected an error for an unknown order")
		}
	})
}

// settleOrder drives an order in PAYMENT_INITIATED to PAYMENT_COMPLETED
// through the webhook path.
func settleOrder(t *testing.T, rig *testRig, order *models.Order) {
	t.Helper()
	ev := chargeEvent(t, "charge.success", order.PaymentReference, payments.TxnSuccess)
	if err := rig.orchestrator.HandlePaymentWebhook(context.Background(), ev); err != nil {
		t.Fatalf("webhook handling failed: %v", err)
	}
}

func chargeEvent(t *testing.T, event, reference, status string) *payments.WebhookEvent {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"reference": reference,
		"status":    status,
		"amount":    227500,
	})
	if err != nil {
		t.Fatalf("failed to marshal charge: %v", err)
	}
	return &payments.WebhookEvent{Event: event, Data: data}
}

func TestOrchestrator_HandlePaymentWebhook(t *testing.T) {
	initiated := func(t *testing.T) (*testRig, *models.Order) {
		t.Helper()
		rig := newTestRig(groceryExtractor)
		if d, _ := rig.orchestrator.Process(context.Background(), submission("ord-1")); d != queue.Ack {
			t.Fatal("pipeline run failed")
		}
		order, _ := rig.store.Get(context.Background(), "ord-1")
		return rig, order
	}

	t.Run("Given a successful verified charge, When handled, Then PAYMENT_COMPLETED", func(t *testing.T) {
		rig, order := initiated(t)

		ev := chargeEvent(t, "charge.success", order.PaymentReference, payments.TxnSuccess)
		if err := rig.orchestrator.HandlePaymentWebhook(context.Background(), ev); err != nil {
			t.Fatalf("webhook failed: %v", err)
		}

		got, _ := rig.store.Get(context.Background(), "ord-1")
		if got.Status != models.StatusPaymentCompleted {
			t.Errorf("expected PAYMENT_COMPLETED, got %s", got.Status)
		}
	})

	t.Run("Given a success event the gateway does not confirm, When handled, Then PAYMENT_FAILED", func(t *testing.T) {
		rig, order := initiated(t)
		rig.gateway.verifyFn = func(ctx context.Context, reference string) (*payments.VerifyResponse, error) {
			return &payments.VerifyResponse{Reference: reference, Status: payments.TxnAbandoned}, nil
		}

		ev := chargeEvent(t, "charge.success", order.PaymentReference, payments.TxnSuccess)
		if err := rig.orchestrator.HandlePaymentWebhook(context.Background(), ev); err != nil {
			t.Fatalf("webhook failed: %v", err)
		}

		got, _ := rig.store.Get(context.Background(), "ord-1")
		if got.Status != models.StatusPaymentFailed {
			t.Errorf("expected PAYMENT_FAILED, got %s", got.Status)
		}
	})

	t.Run("Given a failed charge, When handled, Then PAYMENT_FAILED", func(t *testing.T) {
		rig, order := initiated(t)

		ev := chargeEvent(t, "charge.failed", order.PaymentReference, payments.TxnFailed)
		if err := rig.orchestrator.HandlePaymentWebhook(context.Background(), ev); err != nil {
			t.Fatalf("webhook failed: %v", err)
		}

		got, _ := rig.store.Get(context.Background(), "ord-1")
		if got.Status != models.StatusPaymentFailed {
			t.Errorf("expected PAYMENT_FAILED, got %s", got.Status)
		}
	})

	t.Run("Given an unknown reference, When handled, Then acknowledged without effect", func(t *testing.T) {
		rig, _ := initiated(t)

		ev := chargeEvent(t, "charge.success", "ord_unknown", payments.TxnSuccess)
		if err := rig.orchestrator.HandlePaymentWebhook(context.Background(), ev); err != nil {
			t.Errorf("expected unknown reference to be swallowed, got %v", err)
		}
	})

	t.Run("Given a settled order, When a duplicate webhook arrives, Then no change", func(t *testing.T) {
		rig, order := initiated(t)
		settleOrder(t, rig, order)

		ev := chargeEvent(t, "charge.failed", order.PaymentReference, payments.TxnFailed)
		if err := rig.orchestrator.HandlePaymentWebhook(context.Background(), ev); err != nil {
			t.Fatalf("webhook failed: %v", err)
		}

		got, _ := rig.store.Get(context.Background(), "ord-1")
		if got.Status != models.StatusPaymentCompleted {
			t.Errorf("expected PAYMENT_COMPLETED preserved, got %s", got.Status)
		}
	})
}
