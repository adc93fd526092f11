package models

import "time"

type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type Reservation struct {
	ID              int64             `json:"id"`
	SlotID          int64             `json:"slot_id"`
	Reference       string            `json:"reference"`
	Customer        Customer          `json:"customer"`
	Status          ReservationStatus `json:"status"`
	CreatedAt       time.Time         `json:"created_at"`
	StatusChangedAt time.Time         `json:"status_changed_at"`
}

// LedgerFilter narrows ExportLedger output. Zero values mean "any".
type LedgerFilter struct {
	SlotID   *int64
	Statuses []ReservationStatus
	From     *time.Time
	To       *time.Time
}

// LedgerRow is one line of the tabular ledger snapshot.
type LedgerRow struct {
	Reference       string            `json:"reference"`
	SlotID          int64             `json:"slot_id"`
	SlotName        string            `json:"slot_name"`
	FirstName       string            `json:"first_name"`
	LastName        string            `json:"last_name"`
	Email           string            `json:"email"`
	Phone           string            `json:"phone"`
	Status          ReservationStatus `json:"status"`
	PriceCents      int64             `json:"price_cents"`
	Currency        string            `json:"currency"`
	CreatedAt       time.Time         `json:"created_at"`
	StatusChangedAt time.Time         `json:"status_changed_at"`
}
