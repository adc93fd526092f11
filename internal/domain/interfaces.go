package domain

import (
	"context"
	"time"

	"clinicbook/internal/models"
)

// Ledger is the durable store of slots and reservations.
type Ledger interface {
	GetSlot(ctx context.Context, id int64) (*models.Slot, error)
	ListActiveSlots(ctx context.Context) ([]models.Slot, error)
	LiveCount(ctx context.Context, slotID int64) (int, error)
	LiveCounts(ctx context.Context) (map[int64]int, error)
	CreateReservationWithLock(ctx context.Context, r *models.Reservation) error
	GetReservationByReference(ctx context.Context, reference string) (*models.Reservation, error)
	TransitionStatus(
		ctx context.Context,
		reference string,
		to models.ReservationStatus,
		from ...models.ReservationStatus,
	) (*models.Reservation, bool, error)
	ExportReservations(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerRow, error)
}

// SessionRepository keeps in-progress booking sessions.
type SessionRepository interface {
	GetSession(ctx context.Context, id string) (*models.BookingSession, error)
	SaveSession(ctx context.Context, session *models.BookingSession) error
	DeleteSession(ctx context.Context, id string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// AcquireLock takes key for ttl unless another holder has it.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type ReferenceAllocator interface {
	Allocate() string
}

type BookingService interface {
	Admit(ctx context.Context, slotID int64) (models.Admission, error)
	ListAvailableSlots(ctx context.Context) ([]models.SlotAvailability, error)
	StartBooking(ctx context.Context, slotID int64, customer models.Customer) (*models.Reservation, error)
	ClaimPayment(ctx context.Context, reference string) (*models.Reservation, error)
	ConfirmPayment(ctx context.Context, reference string) (*models.Reservation, error)
	LookupByReference(ctx context.Context, reference string) (*models.Reservation, error)
	AdminConfirm(ctx context.Context, reference string) (*models.Reservation, error)
	AdminDecline(ctx context.Context, reference string) (*models.Reservation, error)
	AdminCancel(ctx context.Context, reference string) (*models.Reservation, error)
	ExportLedger(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerRow, error)
}

type Workflow interface {
	Begin(ctx context.Context) (*models.BookingSession, error)
	Get(ctx context.Context, sessionID string) (*models.BookingSession, error)
	SelectSlot(ctx context.Context, sessionID string, slotID int64) (*models.BookingSession, error)
	CaptureDetails(ctx context.Context, sessionID string, customer models.Customer) (*models.BookingSession, error)
	SubmitForPayment(ctx context.Context, sessionID string) (*models.BookingSession, error)
	ClaimPayment(ctx context.Context, sessionID string) (*models.BookingSession, error)
	ConfirmPayment(ctx context.Context, sessionID string) (*models.BookingSession, error)
}
