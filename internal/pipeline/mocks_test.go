package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/catalog"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/payments"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/resilience"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/store"
)

// memStore is an in-memory order store with the same version semantics
// as the SQLite store.
type memStore struct {
	mu     sync.Mutex
	orders map[string]string // id -> JSON document
}

func newMemStore() *memStore {
	return &memStore{orders: make(map[string]string)}
}

func (m *memStore) Get(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	var o models.Order
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (m *memStore) GetByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, data := range m.orders {
		var o models.Order
		if err := json.Unmarshal([]byte(data), &o); err != nil {
			return nil, err
		}
		if o.PaymentReference == reference {
			return &o, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) Create(ctx context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return store.ErrAlreadyExists
	}
	o.Version = 1
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	m.orders[o.ID] = string(data)
	return nil
}

func (m *memStore) ConditionalPut(ctx context.Context, o *models.Order, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.orders[o.ID]
	if !ok {
		return store.ErrNotFound
	}
	var current models.Order
	if err := json.Unmarshal([]byte(data), &current); err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	o.Version = expectedVersion + 1
	updated, err := json.Marshal(o)
	if err != nil {
		o.Version = expectedVersion
		return err
	}
	m.orders[o.ID] = string(updated)
	return nil
}

// fakeExtractor counts calls and delegates to fn.
type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error)
}

func (f *fakeExtractor) ExtractItems(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, text, correlationID)
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeGateway counts calls and delegates to its function fields.
type fakeGateway struct {
	mu          sync.Mutex
	initCalls   int
	verifyCalls int
	initFn      func(ctx context.Context, req payments.InitRequest) (*payments.InitResponse, error)
	verifyFn    func(ctx context.Context, reference string) (*payments.VerifyResponse, error)
}

func (f *fakeGateway) InitializePayment(ctx context.Context, req payments.InitRequest) (*payments.InitResponse, error) {
	f.mu.Lock()
	f.initCalls++
	f.mu.Unlock()
	return f.initFn(ctx, req)
}

func (f *fakeGateway) VerifyTransaction(ctx context.Context, reference string) (*payments.VerifyResponse, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.mu.Unlock()
	if f.verifyFn == nil {
		return &payments.VerifyResponse{Reference: reference, Status: payments.TxnSuccess}, nil
	}
	return f.verifyFn(ctx, reference)
}

func (f *fakeGateway) initCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

// fakeNotifier records every published event.
type fakeNotifier struct {
	mu     sync.Mutex
	events []models.ProcessingEvent
}

func (f *fakeNotifier) Publish(event models.ProcessingEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeNotifier) kinds() []models.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.EventKind, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// fastPolicy keeps retry backoff out of test runtime.
func fastPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
	}
}

func fastExecutor(dependency string) *resilience.Executor {
	return resilience.NewExecutor(dependency,
		resilience.NewBreaker(5, 100*time.Millisecond),
		fastPolicy(), time.Second, quietLogger())
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.Product{
		{
			ID: "prod-milk", Name: "Milk", Category: "dairy",
			UnitPriceMinor: 50000, Currency: "NGN", Unit: "litre",
			Available: true, Tags: []string{"milk", "drink"},
		},
		{
			ID: "prod-bread", Name: "Bread", Category: "basic_foods",
			UnitPriceMinor: 120000, Currency: "NGN", Unit: "loaf",
			Available: true, Tags: []string{"bread", "bakery"},
		},
	})
}
