// Package catalog holds the rate table: the priced service categories every
// listing is created against. Lookups are read-mostly; the admin surface can
// replace or upsert entries at runtime.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

// DefaultCategories is the rate table a fresh deployment starts with.
func DefaultCategories() []domain.ServiceCategory {
	return []domain.ServiceCategory{
		{ID: "graphic-design", Name: "Graphic Design", RatePerHour: decimal.NewFromInt(5), DemandMultiplier: 1.0, StandardHours: 4},
		{ID: "web-development", Name: "Web Development", RatePerHour: decimal.NewFromInt(8), DemandMultiplier: 1.0, StandardHours: 8},
		{ID: "marketing-strategy", Name: "Marketing Strategy", RatePerHour: decimal.NewFromInt(7), DemandMultiplier: 1.0, StandardHours: 3},
		{ID: "legal-review", Name: "Legal Review", RatePerHour: decimal.NewFromInt(10), DemandMultiplier: 1.0, StandardHours: 2},
		{ID: "accounting", Name: "Accounting", RatePerHour: decimal.NewFromInt(6), DemandMultiplier: 1.0, StandardHours: 3},
	}
}

// RateTable is a concurrency-safe category catalog.
type RateTable struct {
	mu         sync.RWMutex
	categories map[string]domain.ServiceCategory
}

// NewRateTable creates a table seeded with cats. An empty seed falls back to
// DefaultCategories.
func NewRateTable(cats []domain.ServiceCategory) (*RateTable, error) {
	if len(cats) == 0 {
		cats = DefaultCategories()
	}
	t := &RateTable{categories: make(map[string]domain.ServiceCategory, len(cats))}
	for _, c := range cats {
		if err := t.Upsert(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Lookup returns the category with the given id.
func (t *RateTable) Lookup(id string) (domain.ServiceCategory, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.categories[normalizeID(id)]
	return c, ok
}

// Get is Lookup with a typed error for unknown ids.
func (t *RateTable) Get(id string) (domain.ServiceCategory, error) {
	c, ok := t.Lookup(id)
	if !ok {
		return domain.ServiceCategory{}, fmt.Errorf("category %q: %w", id, domain.ErrInvalidCategory)
	}
	return c, nil
}

// List returns every category sorted by id.
func (t *RateTable) List() []domain.ServiceCategory {
	t.mu.RLock()
	out := make([]domain.ServiceCategory, 0, len(t.categories))
	for _, c := range t.categories {
		out = append(out, c)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Upsert validates c and stores it. A zero demand multiplier means 1.0.
func (t *RateTable) Upsert(c domain.ServiceCategory) error {
	c.ID = normalizeID(c.ID)
	if c.ID == "" {
		return fmt.Errorf("category id required: %w", domain.ErrInvalidCategory)
	}
	if !c.RatePerHour.IsPositive() {
		return fmt.Errorf("category %s: rate per hour must be positive: %w", c.ID, domain.ErrInvalidAmount)
	}
	if c.DemandMultiplier == 0 {
		c.DemandMultiplier = 1.0
	}
	if c.DemandMultiplier < 0 || c.StandardHours <= 0 {
		return fmt.Errorf("category %s: multiplier and standard hours must be positive: %w", c.ID, domain.ErrInvalidAmount)
	}
	if c.Name == "" {
		c.Name = c.ID
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.categories[c.ID] = c
	return nil
}

// Price returns the price of hours in the given category.
func (t *RateTable) Price(id string, hours float64) (decimal.Decimal, error) {
	c, err := t.Get(id)
	if err != nil {
		return decimal.Zero, err
	}
	return c.Price(hours), nil
}

// Len returns the number of categories.
func (t *RateTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.categories)
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
