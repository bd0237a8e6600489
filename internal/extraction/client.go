package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/resilience"
)

const (
	defaultModel     = "claude-3-haiku-20240307"
	defaultMaxTokens = 2048
)

// systemPrompt instructs the model to return strict JSON.
const systemPrompt = `You extract grocery items from free-form shopping lists.
Respond with a single JSON object of the form
{"items":[{"name":"...","quantity":1,"unit":"...","specifications":["..."],"confidence":0.95,"source_text":"..."}]}
and nothing else. Quantities are positive numbers. Confidence is your own
certainty in [0,1]. If the text contains no grocery items, return {"items":[]}.`

// Client calls the hosted text-extraction model over HTTP. It performs a
// single attempt per call; retries and circuit breaking are applied by the
// resilience executor that wraps it.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewClient creates an extraction client.
func NewClient(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   defaultModel,
		client:  &http.Client{},
	}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
	Metadata  *metadata `json:"metadata,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type metadata struct {
	UserID string `json:"user_id,omitempty"`
}

type messageResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ExtractItems sends the normalized grocery text to the model and parses
// the structured items out of its response. Failures come back as
// resilience.ClassifiedError so the executor can decide on retries.
func (c *Client) ExtractItems(ctx context.Context, text, correlationID string) ([]models.ExtractedItem, error) {
	if c.apiKey == "" {
		return nil, resilience.Classified(resilience.KindUnauthorized, errors.New("extraction API key not set"))
	}
	if err := screenInput(text); err != nil {
		return nil, err
	}

	req := messageRequest{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		System:    systemPrompt,
		Messages:  []message{{Role: "user", Content: text}},
		Metadata:  &metadata{UserID: correlationID},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, resilience.Classified(resilience.KindValidation, fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, resilience.Classified(resilience.KindValidation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", c.apiKey)
	httpReq.Header.Set("X-Correlation-Id", correlationID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, resilience.Classified(resilience.KindTimeout, err)
		}
		return nil, resilience.Classified(resilience.KindUnavailable, fmt.Errorf("extraction request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Classified(resilience.KindUnavailable, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var mr messageResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return nil, resilience.Classified(resilience.KindUnavailable, fmt.Errorf("malformed extraction response: %w", err))
	}
	if mr.StopReason == "content_filtered" {
		return nil, resilience.Classified(resilience.KindContentRejected, errors.New("extraction output blocked by content filter"))
	}

	var raw bytes.Buffer
	for _, part := range mr.Content {
		if part.Type == "" || part.Type == "text" {
			raw.WriteString(part.Text)
		}
	}

	items, err := ParseItems(raw.String())
	if err != nil {
		// Malformed model output counts against the service, not the user.
		return nil, resilience.Classified(resilience.KindUnavailable, err)
	}
	return items, nil
}

// classifyStatus maps an HTTP error status to a failure kind.
func classifyStatus(status int, body []byte) error {
	var ae apiError
	msg := string(body)
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		msg = ae.Error.Message
	}
	err := fmt.Errorf("extraction API error (%d): %s", status, msg)

	switch {
	case status == http.StatusTooManyRequests:
		return resilience.Classified(resilience.KindRateLimited, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return resilience.Classified(resilience.KindTimeout, err)
	case status >= 500:
		return resilience.Classified(resilience.KindUnavailable, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return resilience.Classified(resilience.KindUnauthorized, err)
	case ae.Error.Type == "content_rejected":
		return resilience.Classified(resilience.KindContentRejected, err)
	default:
		return resilience.Classified(resilience.KindValidation, err)
	}
}
