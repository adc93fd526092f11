package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"clinicbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

const slotColumns = `id, name, kind, capacity, price_cents, currency, schedule_label,
       self_confirm, sort_order, is_active, created_at, updated_at`

// SyncSlots makes the stored catalog match slots. A stored price is never
// overwritten: once a slot is published its price is fixed. Slots absent
// from the list are retired (is_active = 0), never deleted, so their
// reservations stay readable.
func (db *DB) SyncSlots(ctx context.Context, slots []models.Slot) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `INSERT INTO slots (
				id, name, kind, capacity, price_cents, currency, schedule_label,
				self_confirm, sort_order, is_active, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				kind = excluded.kind,
				capacity = excluded.capacity,
				currency = excluded.currency,
				schedule_label = excluded.schedule_label,
				self_confirm = excluded.self_confirm,
				sort_order = excluded.sort_order,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`

	now := time.Now().UTC()
	for i := range slots {
		s := slots[i]
		_, err := tx.ExecContext(ctx, query,
			s.ID,
			s.Name,
			s.Kind,
			s.Capacity,
			s.PriceCents,
			s.Currency,
			s.ScheduleLabel,
			s.SelfConfirm,
			s.SortOrder,
			s.IsActive,
			now,
			now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert slot %d: %w", s.ID, err)
		}
	}

	ids := make([]int64, len(slots))
	for i := range slots {
		ids[i] = slots[i].ID
	}
	retire, args, err := builder.Update("slots").
		Set("is_active", false).
		Set("updated_at", now).
		Where(sq.NotEq{"id": ids}).
		Where(sq.Eq{"is_active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build retire query: %w", err)
	}
	result, err := tx.ExecContext(ctx, retire, args...)
	if err != nil {
		return fmt.Errorf("failed to retire removed slots: %w", err)
	}
	if retired, _ := result.RowsAffected(); retired > 0 {
		db.logger.Info().Int64("count", retired).Msg("retired slots missing from catalog")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit slots: %w", err)
	}

	return db.reloadSlots(ctx)
}

// reloadSlots refreshes the in-memory catalog from the database.
func (db *DB) reloadSlots(ctx context.Context) error {
	rows, err := db.QueryContext(ctx, `SELECT `+slotColumns+` FROM slots`)
	if err != nil {
		return fmt.Errorf("failed to load slots: %w", err)
	}
	defer rows.Close()

	cache := make(map[int64]models.Slot)
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return err
		}
		cache[s.ID] = *s
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate slots: %w", err)
	}

	db.mu.Lock()
	db.slotsCache = cache
	db.mu.Unlock()

	db.logger.Debug().Int("count", len(cache)).Msg("slots cache reloaded")
	return nil
}

// GetSlot returns a slot by id, active or not.
func (db *DB) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	db.mu.RLock()
	cached, ok := db.slotsCache[id]
	db.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	row := db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	s, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ListActiveSlots returns the published catalog ordered for display.
func (db *DB) ListActiveSlots(ctx context.Context) ([]models.Slot, error) {
	db.mu.RLock()
	cached := len(db.slotsCache) > 0
	db.mu.RUnlock()
	if !cached {
		if err := db.reloadSlots(ctx); err != nil {
			return nil, err
		}
	}

	db.mu.RLock()
	slots := make([]models.Slot, 0, len(db.slotsCache))
	for _, s := range db.slotsCache {
		if s.IsActive {
			slots = append(slots, s)
		}
	}
	db.mu.RUnlock()

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].SortOrder == slots[j].SortOrder {
			return slots[i].ID < slots[j].ID
		}
		return slots[i].SortOrder < slots[j].SortOrder
	})
	return slots, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (*models.Slot, error) {
	var s models.Slot
	err := row.Scan(
		&s.ID,
		&s.Name,
		&s.Kind,
		&s.Capacity,
		&s.PriceCents,
		&s.Currency,
		&s.ScheduleLabel,
		&s.SelfConfirm,
		&s.SortOrder,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan slot: %w", err)
	}
	return &s, nil
}
