package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Product is one catalog entry. Prices are integer minor units.
type Product struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	Description    string   `yaml:"description,omitempty" json:"description,omitempty"`
	Category       string   `yaml:"category" json:"category"`
	UnitPriceMinor int64    `yaml:"unit_price_minor" json:"unit_price_minor"`
	Currency       string   `yaml:"currency" json:"currency"`
	Unit           string   `yaml:"unit" json:"unit"`
	Available      bool     `yaml:"available" json:"available"`
	Tags           []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// Catalog is an immutable product list with a case-insensitive name index.
type Catalog struct {
	products []Product
	byName   map[string]int
}

// New builds a catalog from products. Names are indexed lowercased and
// trimmed; on duplicate names the first product wins.
func New(products []Product) *Catalog {
	c := &Catalog{
		products: products,
		byName:   make(map[string]int, len(products)),
	}
	for i, p := range products {
		key := normalizeName(p.Name)
		if _, exists := c.byName[key]; !exists {
			c.byName[key] = i
		}
	}
	return c
}

type catalogFile struct {
	Products []Product `yaml:"products"`
}

// LoadFile reads a YAML catalog seed.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(f.Products) == 0 {
		return nil, fmt.Errorf("catalog %s contains no products", path)
	}
	for i, p := range f.Products {
		if p.ID == "" || p.Name == "" {
			return nil, fmt.Errorf("catalog entry %d missing id or name", i)
		}
	}
	return New(f.Products), nil
}

// Products returns the full product list.
func (c *Catalog) Products() []Product { return c.products }

// Len returns the number of products.
func (c *Catalog) Len() int { return len(c.products) }

// ByExactName looks up a product by case-insensitive name.
func (c *Catalog) ByExactName(name string) (Product, bool) {
	i, ok := c.byName[normalizeName(name)]
	if !ok {
		return Product{}, false
	}
	return c.products[i], true
}

// ByID looks up a product by id.
func (c *Catalog) ByID(id string) (Product, bool) {
	for _, p := range c.products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// InCategory returns products in the given category, ordered by id for
// deterministic iteration.
func (c *Catalog) InCategory(category string) []Product {
	category = strings.ToLower(strings.TrimSpace(category))
	var out []Product
	for _, p := range c.products {
		if strings.ToLower(p.Category) == category {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
