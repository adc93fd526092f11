package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinicbook/internal/models"

	sq "github.com/Masterminds/squirrel"
)

const reservationColumns = `id, slot_id, reference, first_name, last_name, email, phone,
       status, created_at, status_changed_at`

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// CreateReservationWithLock admits and inserts a reservation atomically.
// The live count is re-read inside the write transaction, so concurrent
// callers can never push a slot past its capacity.
func (db *DB) CreateReservationWithLock(ctx context.Context, r *models.Reservation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Check capacity inside transaction
	var (
		capacity int
		isActive bool
	)
	err = tx.QueryRowContext(ctx, `SELECT capacity, is_active FROM slots WHERE id = ?`, r.SlotID).
		Scan(&capacity, &isActive)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !isActive) {
		return ErrSlotNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read slot in tx: %w", err)
	}

	var live int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE slot_id = ? AND status NOT IN (?, ?)`,
		r.SlotID, models.StatusDeclined, models.StatusCancelled,
	).Scan(&live)
	if err != nil {
		return fmt.Errorf("failed to count live reservations in tx: %w", err)
	}

	if live >= capacity {
		return ErrSlotFull
	}

	// 2. Insert
	now := time.Now().UTC()
	if r.Status == "" {
		r.Status = models.StatusPending
	}
	result, err := tx.ExecContext(ctx, `INSERT INTO reservations (
				slot_id, reference, first_name, last_name, email, phone,
				status, created_at, status_changed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SlotID,
		r.Reference,
		r.Customer.FirstName,
		r.Customer.LastName,
		r.Customer.Email,
		r.Customer.Phone,
		r.Status,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("failed to insert reservation in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reservation: %w", err)
	}

	r.ID = id
	r.CreatedAt = now
	r.StatusChangedAt = now
	return nil
}

// LiveCount returns how many reservations currently occupy the slot.
func (db *DB) LiveCount(ctx context.Context, slotID int64) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE slot_id = ? AND status NOT IN (?, ?)`,
		slotID, models.StatusDeclined, models.StatusCancelled,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get live count: %w", err)
	}
	return count, nil
}

// LiveCounts returns live counts for every slot that has any.
func (db *DB) LiveCounts(ctx context.Context) (map[int64]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT slot_id, COUNT(*) FROM reservations WHERE status NOT IN (?, ?) GROUP BY slot_id`,
		models.StatusDeclined, models.StatusCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get live counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			slotID int64
			count  int
		)
		if err := rows.Scan(&slotID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan live count: %w", err)
		}
		counts[slotID] = count
	}
	return counts, rows.Err()
}

func (db *DB) GetReservationByReference(ctx context.Context, reference string) (*models.Reservation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE reference = ?`, reference)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// TransitionStatus moves a reservation to status `to` only if its current
// status is one of `from`. It returns the reservation as stored after the
// attempt and whether this call changed it. A reservation in any other
// status is returned unchanged with changed=false.
func (db *DB) TransitionStatus(
	ctx context.Context,
	reference string,
	to models.ReservationStatus,
	from ...models.ReservationStatus,
) (*models.Reservation, bool, error) {
	if len(from) == 0 {
		return nil, false, fmt.Errorf("transition to %s: no source statuses", to)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	query := `UPDATE reservations SET status = ?, status_changed_at = ?
              WHERE reference = ? AND status IN (` + placeholders + `)`

	args := make([]any, 0, len(from)+3)
	args = append(args, to, time.Now().UTC(), reference)
	for _, s := range from {
		args = append(args, s)
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update reservation status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	current, err := db.GetReservationByReference(ctx, reference)
	if err != nil {
		return nil, false, err
	}
	return current, affected == 1, nil
}

// ExportReservations returns ledger rows joined with slot data.
func (db *DB) ExportReservations(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerRow, error) {
	qb := builder.Select(
		"r.reference",
		"r.slot_id",
		"s.name",
		"r.first_name",
		"r.last_name",
		"r.email",
		"r.phone",
		"r.status",
		"s.price_cents",
		"s.currency",
		"r.created_at",
		"r.status_changed_at",
	).
		From("reservations r").
		Join("slots s ON s.id = r.slot_id").
		OrderBy("r.created_at", "r.id")

	if filter.SlotID != nil {
		qb = qb.Where(sq.Eq{"r.slot_id": *filter.SlotID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		qb = qb.Where(sq.Eq{"r.status": statuses})
	}
	if filter.From != nil {
		qb = qb.Where(sq.GtOrEq{"r.created_at": filter.From.UTC()})
	}
	if filter.To != nil {
		qb = qb.Where(sq.Lt{"r.created_at": filter.To.UTC()})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build export query: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to export reservations: %w", err)
	}
	defer rows.Close()

	result := make([]models.LedgerRow, 0)
	for rows.Next() {
		var row models.LedgerRow
		if err := rows.Scan(
			&row.Reference,
			&row.SlotID,
			&row.SlotName,
			&row.FirstName,
			&row.LastName,
			&row.Email,
			&row.Phone,
			&row.Status,
			&row.PriceCents,
			&row.Currency,
			&row.CreatedAt,
			&row.StatusChangedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger rows: %w", err)
	}
	return result, nil
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var r models.Reservation
	err := row.Scan(
		&r.ID,
		&r.SlotID,
		&r.Reference,
		&r.Customer.FirstName,
		&r.Customer.LastName,
		&r.Customer.Email,
		&r.Customer.Phone,
		&r.Status,
		&r.CreatedAt,
		&r.StatusChangedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan reservation: %w", err)
	}
	return &r, nil
}
