package models

// ReservationStatus is the ledger lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPending        ReservationStatus = "pending"
	StatusPaymentClaimed ReservationStatus = "payment_claimed"
	StatusConfirmed      ReservationStatus = "confirmed"
	StatusDeclined       ReservationStatus = "declined"
	StatusCancelled      ReservationStatus = "cancelled"
)

// IsLive reports whether the reservation occupies capacity.
func (s ReservationStatus) IsLive() bool {
	return s != StatusDeclined && s != StatusCancelled
}

// IsTerminal reports whether no further transition is permitted.
func (s ReservationStatus) IsTerminal() bool {
	switch s {
	case StatusConfirmed, StatusDeclined, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaymentClaimed, StatusConfirmed, StatusDeclined, StatusCancelled:
		return true
	default:
		return false
	}
}

// ReleasedStatuses are the statuses that do not count against capacity.
var ReleasedStatuses = []ReservationStatus{StatusDeclined, StatusCancelled}

const (
	KindClinic = "clinic"
	KindCourse = "course"
)

// Workflow steps of a booking session.
const (
	StepSelecting       = "selecting"
	StepDetailsCaptured = "details_captured"
	StepAwaitingPayment = "awaiting_payment"
	StepPaymentClaimed  = "payment_claimed"
	StepConfirmed       = "confirmed"
	StepDeclined        = "declined"
	StepCancelled       = "cancelled"
)

// Notification queue task states.
const (
	TaskPending   = "pending"
	TaskRetry     = "retry"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

const (
	// DefaultSessionTTL время жизни сессии бронирования
	DefaultSessionTTL = 24 * 60 * 60 // 24 часа в секундах

	// DefaultReferenceAttempts сколько раз пробуем выдать номер брони при коллизии
	DefaultReferenceAttempts = 5

	// DefaultMinPhoneDigits минимальное число цифр в телефоне
	DefaultMinPhoneDigits = 7

	// WorkerQueueSize размер очереди воркера уведомлений
	WorkerQueueSize = 1000

	// SubmitRateLimit заявок с одного email в окне
	SubmitRateLimit = 5

	// SubmitRateWindow окно ограничения заявок
	SubmitRateWindow = 60 * 60 // 1 час в секундах
)
