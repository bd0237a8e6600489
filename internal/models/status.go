package models

// Status is the lifecycle state of an order.
type Status string

const (
	StatusReceived          Status = "RECEIVED"
	StatusExtracting        Status = "EXTRACTING"
	StatusExtracted         Status = "EXTRACTED"
	StatusMatching          Status = "MATCHING"
	StatusMatched           Status = "MATCHED"
	StatusPaymentInitiating Status = "PAYMENT_INITIATING"
	StatusPaymentInitiated  Status = "PAYMENT_INITIATED"
	StatusPaymentCompleted  Status = "PAYMENT_COMPLETED"
	StatusPaymentFailed     Status = "PAYMENT_FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusError             Status = "ERROR"
)

// transitions defines the legal edges of the order state machine.
// ERROR is reachable from every non-terminal state; CANCELLED likewise.
var transitions = map[Status][]Status{
	StatusReceived:          {StatusExtracting, StatusError, StatusCancelled},
	StatusExtracting:        {StatusExtracted, StatusError, StatusCancelled},
	StatusExtracted:         {StatusMatching, StatusError, StatusCancelled},
	StatusMatching:          {StatusMatched, StatusError, StatusCancelled},
	StatusMatched:           {StatusPaymentInitiating, StatusError, StatusCancelled},
	StatusPaymentInitiating: {StatusPaymentInitiated, StatusPaymentFailed, StatusError, StatusCancelled},
	StatusPaymentInitiated:  {StatusPaymentCompleted, StatusPaymentFailed, StatusError, StatusCancelled},
	StatusPaymentCompleted:  nil,
	StatusPaymentFailed:     nil,
	StatusCancelled:         nil,
	StatusError:             nil,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the edge s -> next exists in the state
// machine.
func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// PaymentIssued reports whether a payment link already exists for the
// order. Redelivering an inbound message for such an order is a no-op:
// the order only waits on settlement, and reprocessing would reach the
// gateway a second time.
func (s Status) PaymentIssued() bool {
	return s == StatusPaymentInitiated
}

// EventKind identifies the transition a ProcessingEvent describes.
type EventKind string

const (
	EventOrderReceived     EventKind = "ORDER_RECEIVED"
	EventExtractionStarted EventKind = "EXTRACTION_STARTED"
	EventItemsExtracted    EventKind = "ITEMS_EXTRACTED"
	EventMatchingStarted   EventKind = "MATCHING_STARTED"
	EventItemsMatched      EventKind = "ITEMS_MATCHED"
	EventPaymentInitiating EventKind = "PAYMENT_INITIATING"
	EventPaymentInitiated  EventKind = "PAYMENT_INITIATED"
	EventPaymentCompleted  EventKind = "PAYMENT_COMPLETED"
	EventPaymentFailed     EventKind = "PAYMENT_FAILED"
	EventOrderCancelled    EventKind = "ORDER_CANCELLED"
	EventProcessingError   EventKind = "PROCESSING_ERROR"
)

// EventKindFor maps a committed status to the event kind announcing it.
func EventKindFor(s Status) EventKind {
	switch s {
	case StatusReceived:
		return EventOrderReceived
	case StatusExtracting:
		return EventExtractionStarted
	case StatusExtracted:
		return EventItemsExtracted
	case StatusMatching:
		return EventMatchingStarted
	case StatusMatched:
		return EventItemsMatched
	case StatusPaymentInitiating:
		return EventPaymentInitiating
	case StatusPaymentInitiated:
		return EventPaymentInitiated
	case StatusPaymentCompleted:
		return EventPaymentCompleted
	case StatusPaymentFailed:
		return EventPaymentFailed
	case StatusCancelled:
		return EventOrderCancelled
	default:
		return EventProcessingError
	}
}
