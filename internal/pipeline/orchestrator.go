package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/catalog"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/extraction"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/payments"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/queue"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/resilience"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/store"
)

// lowConfidenceFloor marks extracted items below this confidence for
// manual review.
const lowConfidenceFloor = 0.5

// ErrOrderTerminal is returned when a cancel targets an order that
// already reached a terminal state.
var ErrOrderTerminal = errors.New("order is in a terminal state")

// errConflict signals a lost optimistic-concurrency race. The newer
// state wins; this worker's transition is discarded silently.
var errConflict = errors.New("transition discarded after version conflict")

// Orchestrator drives one order through extraction, matching and payment
// initialization. Every state transition is committed with a conditional
// write before the next stage runs, so a crash never skips an edge.
type Orchestrator struct {
	store     OrderStore
	extractor Extractor
	matcher   Matcher
	gateway   PaymentGateway
	notifier  Notifier
	catalog   *catalog.Catalog

	extractExec *resilience.Executor
	paymentExec *resilience.Executor

	log *slog.Logger
	now func() time.Time
}

// Deps collects the orchestrator's collaborators. Tests swap in fakes.
type Deps struct {
	Store       OrderStore
	Extractor   Extractor
	Matcher     Matcher
	Gateway     PaymentGateway
	Notifier    Notifier
	Catalog     *catalog.Catalog
	ExtractExec *resilience.Executor
	PaymentExec *resilience.Executor
	Logger      *slog.Logger
}

// New creates an orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		store:       d.Store,
		extractor:   d.Extractor,
		matcher:     d.Matcher,
		gateway:     d.Gateway,
		notifier:    d.Notifier,
		catalog:     d.Catalog,
		extractExec: d.ExtractExec,
		paymentExec: d.PaymentExec,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle adapts Process to the queue consumer contract.
func (p *Orchestrator) Handle(ctx context.Context, msg queue.InboundMessage) (queue.Disposition, string) {
	return p.Process(ctx, msg)
}

// Process runs one inbound submission through the pipeline and reports
// how the delivery should be settled. Redelivered messages resume from
// the order's committed status, so a worker crash between a commit and
// an ack never strands the order in a non-terminal state.
func (p *Orchestrator) Process(ctx context.Context, msg queue.InboundMessage) (queue.Disposition, string) {
	log := p.log.With("order_id", msg.OrderID, "correlation_id", msg.CorrelationID)

	order, err := p.loadOrCreate(ctx, msg)
	if err != nil {
		log.Error("failed to load order", "error", err)
		return queue.Requeue, ""
	}

	// A settled order, or one whose payment link already exists, has
	// nothing left to process. Re-ack and move on.
	if order.Status.Terminal() || order.Status.PaymentIssued() {
		log.Info("skipping redelivered order", "status", string(order.Status))
		return queue.Ack, ""
	}

	// Extraction. Skipped once EXTRACTED is committed, so a redelivery
	// never consults the model twice for the same order.
	if order.Status == models.StatusReceived || order.Status == models.StatusExtracting {
		if reason := validateRawText(order.RawText); reason != "" {
			p.failOrder(ctx, order, reason)
			return queue.Ack, ""
		}
		if err := p.advance(ctx, order, models.StatusExtracting, nil); err != nil {
			return p.settleCommitError(log, err)
		}

		items, err := p.extract(ctx, order)
		if err != nil {
			return p.settleStageError(ctx, log, order, err, "extraction")
		}
		// An empty extraction is a valid result, not a failure; the order
		// still walks the matching edges and settles as "no payable items".
		if err := p.commit(ctx, order, models.StatusExtracted, func(o *models.Order) {
			o.ExtractedItems = items
		}); err != nil {
			return p.settleCommitError(log, err)
		}
	}

	// Matching. Pure computation, but the MATCHING edge is still
	// committed so observers see every stage.
	if order.Status == models.StatusExtracted || order.Status == models.StatusMatching {
		if err := p.advance(ctx, order, models.StatusMatching, nil); err != nil {
			return p.settleCommitError(log, err)
		}
		matched := p.matcher.MatchAll(order.ExtractedItems, p.catalog)
		if err := p.commit(ctx, order, models.StatusMatched, func(o *models.Order) {
			o.MatchedItems = matched
			o.RecalculateTotal()
		}); err != nil {
			return p.settleCommitError(log, err)
		}
	}

	if order.PayableItems() == 0 {
		p.failOrder(ctx, order, "no payable items")
		return queue.Ack, ""
	}

	// Payment. Resuming from PAYMENT_INITIATING repeats the gateway
	// call with the same deterministic reference, which the gateway
	// deduplicates.
	if err := p.advance(ctx, order, models.StatusPaymentInitiating, nil); err != nil {
		return p.settleCommitError(log, err)
	}

	resp, err := p.initializePayment(ctx, order)
	if err != nil {
		var failure *resilience.Failure
		if errors.As(err, &failure) && failure.Cause == resilience.CauseNotRetryable && failure.Kind == resilience.KindValidation {
			// The gateway rejected the request itself; retrying the
			// same payload can never succeed.
			p.transitionFailed(ctx, order, models.StatusPaymentFailed, failure.Error())
			return queue.Ack, ""
		}
		return p.settleStageError(ctx, log, order, err, "payment")
	}

	if err := p.commit(ctx, order, models.StatusPaymentInitiated, func(o *models.Order) {
		o.PaymentReference = resp.PaymentReference
		o.PaymentLink = resp.PaymentLink
		expires := resp.ExpiresAt
		o.PaymentExpiresAt = &expires
	}); err != nil {
		return p.settleCommitError(log, err)
	}

	log.Info("order pipeline completed",
		"total_minor", order.TotalMinor,
		"payment_reference", order.PaymentReference)
	return queue.Ack, ""
}

func (p *Orchestrator) loadOrCreate(ctx context.Context, msg queue.InboundMessage) (*models.Order, error) {
	order, err := p.store.Get(ctx, msg.OrderID)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	order = models.NewOrder(msg.OrderID, msg.CustomerRef, msg.RawText, msg.CorrelationID)
	if err := p.store.Create(ctx, order); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return p.store.Get(ctx, msg.OrderID)
		}
		return nil, err
	}
	p.emit(order, "")
	return order, nil
}

func validateRawText(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "request text is empty"
	}
	if len(text) > models.MaxRawTextLength {
		return fmt.Sprintf("request text exceeds %d characters", models.MaxRawTextLength)
	}
	return ""
}

func (p *Orchestrator) extract(ctx context.Context, order *models.Order) ([]models.ExtractedItem, error) {
	var items []models.ExtractedItem
	err := p.extractExec.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		items, opErr = p.extractor.ExtractItems(ctx, order.RawText, order.CorrelationID)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	extraction.FlagLowConfidence(items, lowConfidenceFloor)
	return items, nil
}

func (p *Orchestrator) initializePayment(ctx context.Context, order *models.Order) (*payments.InitResponse, error) {
	req := payments.InitRequest{
		Reference:     payments.IdempotencyKey(order.ID, order.TotalMinor, order.Currency),
		AmountMinor:   order.TotalMinor,
		Currency:      order.Currency,
		CustomerRef:   order.CustomerRef,
		ExpiresAt:     p.now().Add(payments.LinkExpiry),
		CorrelationID: order.CorrelationID,
	}
	for _, m := range order.MatchedItems {
		if !m.Matched() {
			continue
		}
		req.LineItems = append(req.LineItems, payments.LineItem{
			ProductID:   *m.ProductID,
			Name:        m.ProductName,
			Quantity:    m.Extracted.Quantity.String(),
			AmountMinor: m.LineTotalMinor + m.TaxMinor,
		})
	}

	var resp *payments.InitResponse
	err := p.paymentExec.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		resp, opErr = p.gateway.InitializePayment(ctx, req)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// advance commits the edge into to unless a prior delivery already
// committed it. Resumed orders re-enter the pipeline mid-stage without
// re-walking edges the crashed worker persisted.
func (p *Orchestrator) advance(ctx context.Context, order *models.Order, to models.Status, mutate func(*models.Order)) error {
	if order.Status == to {
		return nil
	}
	return p.commit(ctx, order, to, mutate)
}

// commit advances the order one edge and persists it conditionally.
// mutate runs after the status change and before the write.
func (p *Orchestrator) commit(ctx context.Context, order *models.Order, to models.Status, mutate func(*models.Order)) error {
	if !order.Status.CanTransitionTo(to) {
		return fmt.Errorf("invalid transition %s -> %s for order %s", order.Status, to, order.ID)
	}
	prev := order.Status
	order.Status = to
	if mutate != nil {
		mutate(order)
	}

	if err := p.store.ConditionalPut(ctx, order, order.Version); err != nil {
		order.Status = prev
		if errors.Is(err, store.ErrVersionConflict) {
			p.log.Info("discarding transition after version conflict",
				"order_id", order.ID, "from", string(prev), "to", string(to))
			return errConflict
		}
		return err
	}

	p.emit(order, "")
	return nil
}

// failOrder moves the order to ERROR with a human-readable reason.
// Failures here are logged and swallowed; the caller has already
// decided the delivery's fate.
func (p *Orchestrator) failOrder(ctx context.Context, order *models.Order, reason string) {
	p.transitionFailed(ctx, order, models.StatusError, reason)
}

func (p *Orchestrator) transitionFailed(ctx context.Context, order *models.Order, to models.Status, reason string) {
	err := p.commit(ctx, order, to, func(o *models.Order) {
		o.ErrorDetail = reason
	})
	if err != nil && !errors.Is(err, errConflict) {
		p.log.Error("failed to record order failure",
			"order_id", order.ID, "status", string(to), "error", err)
	}
}

// settleStageError converts an external-call failure into an order
// state and a delivery disposition. Exhausted retries and open breakers
// dead-letter the message for replay; everything else is final.
func (p *Orchestrator) settleStageError(ctx context.Context, log *slog.Logger, order *models.Order, err error, stage string) (queue.Disposition, string) {
	var failure *resilience.Failure
	if !errors.As(err, &failure) {
		log.Error("unclassified stage error", "stage", stage, "error", err)
		p.failOrder(ctx, order, fmt.Sprintf("%s failed: %v", stage, err))
		return queue.Ack, ""
	}

	reason := fmt.Sprintf("%s failed: %s", stage, failure.Error())
	p.failOrder(ctx, order, reason)

	switch failure.Cause {
	case resilience.CauseRetriesExhausted, resilience.CauseBreakerOpen:
		return queue.DeadLetter, reason
	default:
		// Validation, unauthorized, rejected content: replaying the
		// same message cannot help.
		return queue.Ack, ""
	}
}

func (p *Orchestrator) settleCommitError(log *slog.Logger, err error) (queue.Disposition, string) {
	if errors.Is(err, errConflict) {
		return queue.Ack, ""
	}
	log.Error("failed to persist transition", "error", err)
	return queue.Requeue, ""
}

// Cancel moves a non-terminal order to CANCELLED. Concurrent pipeline
// progress is retried against; a terminal order returns ErrOrderTerminal.
func (p *Orchestrator) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	for attempt := 0; attempt < 3; attempt++ {
		order, err := p.store.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if order.Status.Terminal() {
			return order, ErrOrderTerminal
		}

		err = p.commit(ctx, order, models.StatusCancelled, func(o *models.Order) {
			o.ErrorDetail = "cancelled by customer"
		})
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, errConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to cancel order %s after repeated conflicts", orderID)
}

// HandlePaymentWebhook settles an order from a verified gateway webhook.
// Deliveries for unknown references or already-settled orders are
// acknowledged without effect.
func (p *Orchestrator) HandlePaymentWebhook(ctx context.Context, event *payments.WebhookEvent) error {
	charge, err := event.ParseWebhookCharge()
	if err != nil {
		return err
	}

	order, err := p.store.GetByPaymentReference(ctx, charge.Reference)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.log.Warn("webhook for unknown payment reference", "reference", charge.Reference)
			return nil
		}
		return err
	}
	if order.Status != models.StatusPaymentInitiated {
		p.log.Info("ignoring webhook for settled order",
			"order_id", order.ID, "status", string(order.Status))
		return nil
	}

	switch {
	case event.Event == "charge.success" && charge.Status == payments.TxnSuccess:
		// Trust but verify: confirm with the gateway before marking paid.
		verified, err := p.verifyCharge(ctx, charge.Reference)
		if err != nil {
			return err
		}
		if !verified {
			p.transitionFailed(ctx, order, models.StatusPaymentFailed, "gateway verification did not confirm payment")
			return nil
		}
		return p.commitIgnoringConflict(ctx, order, models.StatusPaymentCompleted, nil)
	default:
		p.transitionFailed(ctx, order, models.StatusPaymentFailed,
			fmt.Sprintf("payment %s: %s", charge.Status, event.Event))
		return nil
	}
}

func (p *Orchestrator) verifyCharge(ctx context.Context, reference string) (bool, error) {
	var resp *payments.VerifyResponse
	err := p.paymentExec.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		resp, opErr = p.gateway.VerifyTransaction(ctx, reference)
		return opErr
	})
	if err != nil {
		return false, err
	}
	return resp.Status == payments.TxnSuccess, nil
}

func (p *Orchestrator) commitIgnoringConflict(ctx context.Context, order *models.Order, to models.Status, mutate func(*models.Order)) error {
	err := p.commit(ctx, order, to, mutate)
	if errors.Is(err, errConflict) {
		return nil
	}
	return err
}

// emit publishes a processing event for the order's current state.
func (p *Orchestrator) emit(order *models.Order, message string) {
	if p.notifier == nil {
		return
	}
	p.notifier.Publish(models.ProcessingEvent{
		OrderID:       order.ID,
		Kind:          models.EventKindFor(order.Status),
		Message:       message,
		Snapshot:      models.SnapshotOf(order),
		CorrelationID: order.CorrelationID,
		Timestamp:     p.now(),
	})
}
