package models

import "time"

// BookingSession tracks a customer through the guided booking flow
// before and after the reservation lands in the ledger.
type BookingSession struct {
	ID        string    `json:"id"`
	Step      string    `json:"step"`
	SlotID    int64     `json:"slot_id,omitempty"`
	Customer  *Customer `json:"customer,omitempty"`
	Reference string    `json:"reference,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasReservation reports whether the session already owns a ledger entry.
func (s *BookingSession) HasReservation() bool {
	return s != nil && s.Reference != ""
}

// StepForStatus maps a ledger status to the matching session step.
func StepForStatus(status ReservationStatus) string {
	switch status {
	case StatusPending:
		return StepAwaitingPayment
	case StatusPaymentClaimed:
		return StepPaymentClaimed
	case StatusConfirmed:
		return StepConfirmed
	case StatusDeclined:
		return StepDeclined
	case StatusCancelled:
		return StepCancelled
	default:
		return ""
	}
}
