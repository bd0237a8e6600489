package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
)

// Store errors surfaced to the orchestrator.
var (
	// ErrNotFound means no order exists under the requested id.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyExists means Create raced with another creator.
	ErrAlreadyExists = errors.New("order already exists")
	// ErrVersionConflict means a concurrent writer advanced the order
	// first; the losing transition must be discarded.
	ErrVersionConflict = errors.New("order version conflict")
)

// OrderStore persists orders in SQLite. The full order document is stored
// as JSON alongside indexed columns; every mutation is a conditional
// write keyed on the expected version.
type OrderStore struct {
	db *sql.DB
}

// NewOrderStore opens (and migrates) the order database at dbPath.
func NewOrderStore(dbPath string) (*OrderStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	s := &OrderStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *OrderStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			version INTEGER NOT NULL,
			correlation_id TEXT NOT NULL,
			customer_ref TEXT NOT NULL,
			payment_reference TEXT,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
		CREATE INDEX IF NOT EXISTS idx_orders_payment_ref ON orders(payment_reference);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *OrderStore) Close() error { return s.db.Close() }

// Ping verifies the database is reachable (health checks).
func (s *OrderStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Get loads an order by id.
func (s *OrderStore) Get(ctx context.Context, orderID string) (*models.Order, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM orders WHERE id = ?`, orderID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	return unmarshalOrder(data)
}

// GetByPaymentReference loads the order carrying a gateway reference.
// Used by the webhook path, which only knows the reference.
func (s *OrderStore) GetByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM orders WHERE payment_reference = ?`, reference,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order by reference: %w", err)
	}
	return unmarshalOrder(data)
}

// Create inserts a new order at version 1. A duplicate id returns
// ErrAlreadyExists so redelivered creations can fall back to Get.
func (s *OrderStore) Create(ctx context.Context, o *models.Order) error {
	o.Version = 1
	o.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, status, version, correlation_id, customer_ref, payment_reference, data, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, string(o.Status), o.Version, o.CorrelationID, o.CustomerRef,
		nullable(o.PaymentReference), string(data), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// ConditionalPut commits a mutation of o that was made against
// expectedVersion. On success o's version becomes expectedVersion+1. If
// another writer already advanced the row, ErrVersionConflict is
// returned and the order is left untouched.
func (s *OrderStore) ConditionalPut(ctx context.Context, o *models.Order, expectedVersion int64) error {
	o.Version = expectedVersion + 1
	o.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(o)
	if err != nil {
		o.Version = expectedVersion
		return fmt.Errorf("failed to marshal order: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE orders
		 SET status = ?, version = ?, payment_reference = ?, data = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(o.Status), o.Version, nullable(o.PaymentReference),
		string(data), o.UpdatedAt, o.ID, expectedVersion,
	)
	if err != nil {
		o.Version = expectedVersion
		return fmt.Errorf("failed to update order %s: %w", o.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		o.Version = expectedVersion
		return err
	}
	if affected == 0 {
		o.Version = expectedVersion
		return ErrVersionConflict
	}
	return nil
}

// ListByStatus returns orders in a given status, oldest first. Used by
// operational tooling, not the pipeline itself.
func (s *OrderStore) ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM orders WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		string(status), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		o, err := unmarshalOrder(data)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountByStatus reports order counts per status for health/stats.
func (s *OrderStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func unmarshalOrder(data string) (*models.Order, error) {
	var o models.Order
	if err := json.Unmarshal([]byte(data), &o); err != nil {
		return nil, fmt.Errorf("corrupt order record: %w", err)
	}
	return &o, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 reports constraint violations in the error text;
	// matching on it avoids importing the driver's error types here.
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint"))
}
