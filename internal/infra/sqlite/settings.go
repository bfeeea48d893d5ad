package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

// ─── Rate Table Persistence ─────────────────────────────────────────────────

// UpsertCategory inserts or updates a rate-table entry.
func (db *DB) UpsertCategory(ctx context.Context, c domain.ServiceCategory) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO service_categories (id, name, rate_per_hour, demand_multiplier, standard_hours, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name              = excluded.name,
			rate_per_hour     = excluded.rate_per_hour,
			demand_multiplier = excluded.demand_multiplier,
			standard_hours    = excluded.standard_hours,
			updated_at        = excluded.updated_at
	`, c.ID, c.Name, c.RatePerHour.String(), c.DemandMultiplier, c.StandardHours, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert category %s: %w", c.ID, err)
	}
	return nil
}

// ListCategories returns every stored category ordered by id.
func (db *DB) ListCategories(ctx context.Context) ([]domain.ServiceCategory, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, name, rate_per_hour, demand_multiplier, standard_hours
		FROM service_categories ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []domain.ServiceCategory
	for rows.Next() {
		var (
			c    domain.ServiceCategory
			rate string
		)
		if err := rows.Scan(&c.ID, &c.Name, &rate, &c.DemandMultiplier, &c.StandardHours); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		if c.RatePerHour, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("category %s rate: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ─── Policy Persistence ─────────────────────────────────────────────────────

// SavePolicy upserts every key/value pair in one transaction.
func (db *DB) SavePolicy(ctx context.Context, values map[string]string) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	for k, v := range values {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO policy_settings (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
		`, k, v, now); err != nil {
			return fmt.Errorf("save policy %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// LoadPolicy returns every stored policy value. Empty when nothing was saved.
func (db *DB) LoadPolicy(ctx context.Context) (map[string]string, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT key, value FROM policy_settings`)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}
