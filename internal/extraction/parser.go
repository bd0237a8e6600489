package extraction

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
)

type itemsPayload struct {
	Items []rawItem `json:"items"`
}

type rawItem struct {
	Name           string      `json:"name"`
	Quantity       json.Number `json:"quantity"`
	Unit           string      `json:"unit"`
	Specifications []string    `json:"specifications"`
	Confidence     float64     `json:"confidence"`
	SourceText     string      `json:"source_text"`
}

// ParseItems extracts the structured item list from raw model output. The
// model is told to return bare JSON but occasionally wraps it in prose or
// a code fence, so the parser locates the outermost JSON object first.
// A valid response with zero items is not an error.
func ParseItems(raw string) ([]models.ExtractedItem, error) {
	blob, err := extractJSON(raw)
	if err != nil {
		return nil, err
	}

	var payload itemsPayload
	dec := json.NewDecoder(strings.NewReader(blob))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("extraction output is not valid JSON: %w", err)
	}

	items := make([]models.ExtractedItem, 0, len(payload.Items))
	for _, r := range payload.Items {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}

		qty, err := parseQuantity(r.Quantity)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", name, err)
		}

		specs := make([]string, 0, len(r.Specifications))
		for _, s := range r.Specifications {
			if s = strings.TrimSpace(s); s != "" {
				specs = append(specs, s)
			}
		}

		items = append(items, models.ExtractedItem{
			Name:           name,
			Quantity:       qty,
			Unit:           strings.TrimSpace(r.Unit),
			Specifications: specs,
			Confidence:     clamp01(r.Confidence),
			SourceText:     strings.TrimSpace(r.SourceText),
		})
	}
	return items, nil
}

// FlagLowConfidence marks items below the floor for downstream review.
// Flagged items stay in the pipeline.
func FlagLowConfidence(items []models.ExtractedItem, floor float64) {
	for i := range items {
		if items[i].Confidence < floor {
			items[i].NeedsReview = true
		}
	}
}

// extractJSON returns the first balanced top-level JSON object in raw.
func extractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", fmt.Errorf("extraction output contains no JSON object")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("extraction output contains an unterminated JSON object")
}

func parseQuantity(n json.Number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Decimal{}, fmt.Errorf("missing quantity")
	}
	qty, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid quantity %q", n.String())
	}
	if qty.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("quantity must be positive, got %s", qty)
	}
	return qty, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
