package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/resilience"
)

// LinkExpiry is the fixed payment link validity window.
const LinkExpiry = 24 * time.Hour

// LineItem is one priced line forwarded to the gateway for the itemized
// checkout breakdown.
type LineItem struct {
	ProductID   string `json:"product_id"`
	Name        string `json:"name"`
	Quantity    string `json:"quantity"`
	AmountMinor int64  `json:"amount_minor"`
}

// InitRequest initializes one payment. Reference is the idempotency key;
// the gateway deduplicates on it, so retried calls never double-charge.
type InitRequest struct {
	Reference     string     `json:"reference"`
	AmountMinor   int64      `json:"amount"`
	Currency      string     `json:"currency"`
	CustomerRef   string     `json:"email"`
	LineItems     []LineItem `json:"line_items,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	CorrelationID string     `json:"-"`
}

// InitResponse is the gateway's answer to a successful initialization.
type InitResponse struct {
	PaymentReference string    `json:"payment_reference"`
	PaymentLink      string    `json:"payment_link"`
	Status           string    `json:"status"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// VerifyResponse reports the settled status of a transaction.
type VerifyResponse struct {
	Reference   string     `json:"reference"`
	Status      string     `json:"status"`
	AmountMinor int64      `json:"amount"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// Transaction statuses reported by the gateway.
const (
	TxnSuccess   = "success"
	TxnFailed    = "failed"
	TxnPending   = "pending"
	TxnAbandoned = "abandoned"
)

// IdempotencyKey derives the deterministic gateway reference for an
// order. It depends only on immutable order fields, so retries and
// redeliveries always produce the same key.
func IdempotencyKey(orderID string, amountMinor int64, currency string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", orderID, amountMinor, currency)))
	return "ord_" + hex.EncodeToString(sum[:16])
}

// Client calls the payment gateway over HTTP. Single attempt per call;
// the resilience executor supplies retries and circuit breaking.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewClient creates a gateway client.
func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

type gatewayEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	PaidAt    string `json:"paid_at"`
}

// InitializePayment creates a payment link for the order.
func (c *Client) InitializePayment(ctx context.Context, req InitRequest) (*InitResponse, error) {
	if req.Reference == "" {
		return nil, resilience.Classified(resilience.KindValidation, errors.New("payment reference must not be empty"))
	}
	if req.AmountMinor <= 0 {
		return nil, resilience.Classified(resilience.KindValidation, fmt.Errorf("payment amount must be positive, got %d", req.AmountMinor))
	}

	env, err := c.call(ctx, http.MethodPost, "/transaction/initialize", req, req.CorrelationID)
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, resilience.Classified(resilience.KindValidation, fmt.Errorf("payment initialization rejected: %s", env.Message))
	}

	var data initData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, resilience.Classified(resilience.KindUnavailable, fmt.Errorf("malformed gateway response: %w", err))
	}
	return &InitResponse{
		PaymentReference: data.Reference,
		PaymentLink:      data.AuthorizationURL,
		Status:           TxnPending,
		ExpiresAt:        req.ExpiresAt,
	}, nil
}

// VerifyTransaction fetches the settled status of a payment reference.
// Used by the reconciliation path when webhook delivery was missed.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResponse, error) {
	env, err := c.call(ctx, http.MethodGet, "/transaction/verify/"+reference, nil, "")
	if err != nil {
		return nil, err
	}
	if !env.Status {
		return nil, resilience.Classified(resilience.KindValidation, fmt.Errorf("verification rejected: %s", env.Message))
	}

	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, resilience.Classified(resilience.KindUnavailable, fmt.Errorf("malformed gateway response: %w", err))
	}

	out := &VerifyResponse{
		Reference:   data.Reference,
		Status:      data.Status,
		AmountMinor: data.Amount,
	}
	if data.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, data.PaidAt); err == nil {
			out.PaidAt = &t
		}
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any, correlationID string) (*gatewayEnvelope, error) {
	if c.apiKey == "" {
		return nil, resilience.Classified(resilience.KindUnauthorized, errors.New("payment gateway API key not set"))
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, resilience.Classified(resilience.KindValidation, err)
		}
		reader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, resilience.Classified(resilience.KindValidation, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if correlationID != "" {
		httpReq.Header.Set("X-Correlation-Id", correlationID)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, resilience.Classified(resilience.KindTimeout, err)
		}
		return nil, resilience.Classified(resilience.KindUnavailable, fmt.Errorf("gateway request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Classified(resilience.KindUnavailable, fmt.Errorf("failed to read gateway response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var env gatewayEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, resilience.Classified(resilience.KindUnavailable, fmt.Errorf("malformed gateway response: %w", err))
	}
	return &env, nil
}

func classifyStatus(status int, body []byte) error {
	var env gatewayEnvelope
	msg := string(body)
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		msg = env.Message
	}
	err := fmt.Errorf("gateway error (%d): %s", status, msg)

	switch {
	case status == http.StatusTooManyRequests:
		return resilience.Classified(resilience.KindRateLimited, err)
	case status >= 500:
		return resilience.Classified(resilience.KindUnavailable, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.Classified(resilience.KindUnauthorized, err)
	default:
		return resilience.Classified(resilience.KindValidation, err)
	}
}

// WebhookEvent is a parsed gateway webhook payload.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebhookCharge is the charge body carried on charge.* events.
type WebhookCharge struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	AmountMinor int64  `json:"amount"`
}

// ValidateWebhookSignature checks the HMAC-SHA512 signature the gateway
// puts on webhook deliveries.
func ValidateWebhookSignature(payload []byte, signature, secret string) bool {
	if len(payload) == 0 || signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), bytes.ToLower([]byte(signature)))
}

// ParseWebhookEvent decodes a webhook payload.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var ev WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	if ev.Event == "" {
		return nil, errors.New("webhook payload missing event type")
	}
	return &ev, nil
}

// ParseWebhookCharge decodes the charge data of a charge.* event.
func (e *WebhookEvent) ParseWebhookCharge() (*WebhookCharge, error) {
	var c WebhookCharge
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return nil, fmt.Errorf("invalid charge payload: %w", err)
	}
	if c.Reference == "" {
		return nil, errors.New("charge payload missing reference")
	}
	return &c, nil
}
