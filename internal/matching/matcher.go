package matching

import (
	"sort"
	"strings"

	"github.com/mohammedfirdouss/ai-grocery-app/internal/catalog"
	"github.com/mohammedfirdouss/ai-grocery-app/internal/models"
)

// Config tunes the matching tiers.
type Config struct {
	// FuzzyThreshold is the minimum edit-distance similarity for tier 2.
	FuzzyThreshold float64
	// CategoryThreshold is the minimum semantic similarity for tier 3.
	CategoryThreshold float64
	// CategoryDamping scales tier-3 confidence below fuzzy confidence.
	CategoryDamping float64
	// MaxAlternatives caps the alternative product list per item.
	MaxAlternatives int
}

// DefaultConfig returns the standard matching thresholds.
func DefaultConfig() Config {
	return Config{
		FuzzyThreshold:    0.75,
		CategoryThreshold: 0.8,
		CategoryDamping:   0.8,
		MaxAlternatives:   3,
	}
}

// Engine resolves extracted items against a product catalog. It performs
// no I/O: every tier is in-process computation, so Match needs no retry
// or context.
type Engine struct {
	cfg Config
	tax TaxPolicy
}

// NewEngine creates a matching engine.
func NewEngine(cfg Config, tax TaxPolicy) *Engine {
	if cfg.MaxAlternatives <= 0 {
		cfg.MaxAlternatives = 3
	}
	return &Engine{cfg: cfg, tax: tax}
}

// candidate is one scored catalog product during tier evaluation.
type candidate struct {
	product catalog.Product
	score   float64
}

// Match resolves one extracted item. Tiers are evaluated in fixed order
// and the first tier that produces a candidate wins:
//
//  1. exact case-insensitive name match (confidence 1.0)
//  2. edit-distance similarity >= FuzzyThreshold (confidence = similarity)
//  3. semantic similarity within the inferred category (confidence =
//     similarity * CategoryDamping)
//  4. no match: nil product id, availability false, confidence 0
//
// Candidates tied at the winning tier are broken by availability, then
// lower price, then smaller catalog id.
func (e *Engine) Match(item models.ExtractedItem, cat *catalog.Catalog) models.MatchedItem {
	if best, ok := e.bestByScore(item.Name, cat.Products(), exactScore, 1.0); ok {
		return e.build(item, cat, best.product, 1.0)
	}

	if best, ok := e.bestByScore(item.Name, cat.Products(), nameSimilarity, e.cfg.FuzzyThreshold); ok {
		return e.build(item, cat, best.product, best.score)
	}

	if category := inferCategory(item, cat); category != "" {
		pool := cat.InCategory(category)
		if best, ok := e.bestByScore(item.Name, pool, semanticSimilarity, e.cfg.CategoryThreshold); ok {
			return e.build(item, cat, best.product, best.score*e.cfg.CategoryDamping)
		}
	}

	return models.MatchedItem{
		Extracted:    item,
		ProductID:    nil,
		Available:    false,
		Confidence:   0,
		Alternatives: nil,
	}
}

// MatchAll resolves a slice of items, preserving order.
func (e *Engine) MatchAll(items []models.ExtractedItem, cat *catalog.Catalog) []models.MatchedItem {
	out := make([]models.MatchedItem, len(items))
	for i, item := range items {
		out[i] = e.Match(item, cat)
	}
	return out
}

// exactScore is the tier-1 similarity: 1 for a case-insensitive name
// match, 0 otherwise.
func exactScore(a, b string) float64 {
	if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b)) {
		return 1.0
	}
	return 0
}

// bestByScore scans products with the given similarity function and
// returns the tie-broken best candidate at or above threshold.
func (e *Engine) bestByScore(name string, products []catalog.Product, score func(a, b string) float64, threshold float64) (candidate, bool) {
	var tied []candidate
	best := 0.0
	const epsilon = 1e-9

	for _, p := range products {
		s := score(name, p.Name)
		if s < threshold {
			continue
		}
		switch {
		case s > best+epsilon:
			best = s
			tied = tied[:0]
			tied = append(tied, candidate{product: p, score: s})
		case s >= best-epsilon:
			tied = append(tied, candidate{product: p, score: s})
		}
	}
	if len(tied) == 0 {
		return candidate{}, false
	}

	sort.Slice(tied, func(i, j int) bool {
		a, b := tied[i].product, tied[j].product
		if a.Available != b.Available {
			return a.Available
		}
		if a.UnitPriceMinor != b.UnitPriceMinor {
			return a.UnitPriceMinor < b.UnitPriceMinor
		}
		return a.ID < b.ID
	})
	return tied[0], true
}

// build assembles the final MatchedItem with pricing and alternatives.
func (e *Engine) build(item models.ExtractedItem, cat *catalog.Catalog, product catalog.Product, confidence float64) models.MatchedItem {
	if confidence > 1.0 {
		confidence = 1.0
	}
	line := lineTotalMinor(product.UnitPriceMinor, item.Quantity)
	tax := taxMinor(line, e.tax.RateFor(product.Category))
	id := product.ID
	return models.MatchedItem{
		Extracted:      item,
		ProductID:      &id,
		ProductName:    product.Name,
		UnitPriceMinor: product.UnitPriceMinor,
		LineTotalMinor: line,
		TaxMinor:       tax,
		Available:      product.Available,
		Confidence:     confidence,
		Alternatives:   e.alternatives(item.Name, product.ID, cat),
	}
}

// alternatives ranks other products by name similarity: descending score,
// then ascending catalog id, capped at MaxAlternatives.
func (e *Engine) alternatives(name, chosenID string, cat *catalog.Catalog) []string {
	var ranked []candidate
	for _, p := range cat.Products() {
		if p.ID == chosenID {
			continue
		}
		if s := nameSimilarity(name, p.Name); s > 0 {
			ranked = append(ranked, candidate{product: p, score: s})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].product.ID < ranked[j].product.ID
	})

	n := e.cfg.MaxAlternatives
	if len(ranked) < n {
		n = len(ranked)
	}
	out := make([]string, 0, n)
	for _, c := range ranked[:n] {
		out = append(out, c.product.ID)
	}
	return out
}

// inferCategory derives a coarse category for an item from its
// specifications and unit, voting against catalog categories and product
// tags. Ties resolve to the lexicographically smaller category.
func inferCategory(item models.ExtractedItem, cat *catalog.Catalog) string {
	tokens := make(map[string]bool)
	for _, spec := range item.Specifications {
		for _, tok := range strings.Fields(strings.ToLower(spec)) {
			tokens[tok] = true
		}
	}
	if u := strings.ToLower(strings.TrimSpace(item.Unit)); u != "" {
		tokens[u] = true
	}
	if len(tokens) == 0 {
		return ""
	}

	votes := make(map[string]int)
	for _, p := range cat.Products() {
		category := strings.ToLower(p.Category)
		if tokens[category] {
			votes[category]++
		}
		for _, tag := range p.Tags {
			if tokens[strings.ToLower(tag)] {
				votes[category]++
			}
		}
	}

	bestCategory := ""
	bestVotes := 0
	for category, n := range votes {
		if n > bestVotes || (n == bestVotes && (bestCategory == "" || category < bestCategory)) {
			bestCategory = category
			bestVotes = n
		}
	}
	return bestCategory
}
