package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/domain"
	"clinicbook/internal/events"
	"clinicbook/internal/metrics"
	"clinicbook/internal/models"
	"clinicbook/internal/reference"

	"github.com/rs/zerolog"
)

const (
	actorCustomer = "customer"
	actorAdmin    = "admin"
)

// liveStatuses are the statuses an admin or customer action may move from.
var liveStatuses = []models.ReservationStatus{models.StatusPending, models.StatusPaymentClaimed}

type BookingService struct {
	ledger         domain.Ledger
	allocator      domain.ReferenceAllocator
	eventBus       domain.EventPublisher
	attempts       int
	minPhoneDigits int
	logger         *zerolog.Logger
	now            func() time.Time
}

func NewBookingService(
	ledger domain.Ledger,
	allocator domain.ReferenceAllocator,
	eventBus domain.EventPublisher,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *BookingService {
	attempts := cfg.ReferenceAttempts
	if attempts <= 0 {
		attempts = models.DefaultReferenceAttempts
	}
	minDigits := cfg.MinPhoneDigits
	if minDigits <= 0 {
		minDigits = models.DefaultMinPhoneDigits
	}
	return &BookingService{
		ledger:         ledger,
		allocator:      allocator,
		eventBus:       eventBus,
		attempts:       attempts,
		minPhoneDigits: minDigits,
		logger:         logger,
		now:            time.Now,
	}
}

// Admit reports whether slotID can take one more reservation right now.
// It is advisory: StartBooking re-checks inside the insert transaction.
func (s *BookingService) Admit(ctx context.Context, slotID int64) (models.Admission, error) {
	slot, err := s.activeSlot(ctx, slotID)
	if err != nil {
		return models.Admission{}, err
	}

	live, err := s.ledger.LiveCount(ctx, slotID)
	if err != nil {
		return models.Admission{}, translate(err)
	}

	adm := models.Admission{
		Admitted: live < slot.Capacity,
		Live:     live,
		Capacity: slot.Capacity,
	}
	if !adm.Admitted {
		adm.Reason = "slot_full"
	}
	return adm, nil
}

// ListAvailableSlots returns every active slot with its remaining capacity.
// Full slots are included with zero remaining.
func (s *BookingService) ListAvailableSlots(ctx context.Context) ([]models.SlotAvailability, error) {
	slots, err := s.ledger.ListActiveSlots(ctx)
	if err != nil {
		return nil, translate(err)
	}
	counts, err := s.ledger.LiveCounts(ctx)
	if err != nil {
		return nil, translate(err)
	}

	result := make([]models.SlotAvailability, 0, len(slots))
	for _, slot := range slots {
		live := counts[slot.ID]
		result = append(result, models.SlotAvailability{
			Slot:      slot,
			Live:      live,
			Remaining: max(slot.Capacity-live, 0),
		})
	}
	return result, nil
}

// StartBooking validates the customer and admits a new pending reservation.
// A reference collision is retried with a fresh value up to the configured
// number of attempts.
func (s *BookingService) StartBooking(ctx context.Context, slotID int64, customer models.Customer) (*models.Reservation, error) {
	customer = NormalizeCustomer(customer)
	if err := ValidateCustomer(customer, s.minPhoneDigits); err != nil {
		metrics.IncBooking("invalid")
		return nil, err
	}

	for attempt := 1; attempt <= s.attempts; attempt++ {
		r := &models.Reservation{
			SlotID:    slotID,
			Reference: s.allocator.Allocate(),
			Customer:  customer,
			Status:    models.StatusPending,
		}

		err := s.ledger.CreateReservationWithLock(ctx, r)
		if err == nil {
			metrics.IncBooking("created")
			s.logger.Info().
				Str("reference", r.Reference).
				Int64("slot_id", slotID).
				Int("attempt", attempt).
				Msg("reservation created")
			s.publishEvent(ctx, events.EventBookingCreated, r, actorCustomer)
			return r, nil
		}

		if errors.Is(err, database.ErrDuplicateReference) {
			s.logger.Warn().Str("reference", r.Reference).Int("attempt", attempt).Msg("reference collision, retrying")
			continue
		}

		err = translate(err)
		switch {
		case errors.Is(err, ErrSlotFull):
			metrics.IncBooking("slot_full")
		case errors.Is(err, ErrSlotNotFound):
			metrics.IncBooking("slot_not_found")
		default:
			metrics.IncBooking("store_unavailable")
			s.logger.Error().Err(err).Int64("slot_id", slotID).Msg("create reservation failed")
		}
		return nil, err
	}

	metrics.IncBooking("allocation_failed")
	s.logger.Error().Int("attempts", s.attempts).Int64("slot_id", slotID).Msg("reference allocation exhausted")
	return nil, ErrAllocationFailed
}

// ClaimPayment records the customer's payment claim. Repeating it, or
// claiming an already confirmed reservation, succeeds without side effects.
func (s *BookingService) ClaimPayment(ctx context.Context, ref string) (*models.Reservation, error) {
	r, changed, err := s.transition(ctx, ref, models.StatusPaymentClaimed, models.StatusPending)
	if err != nil {
		return nil, err
	}
	if changed {
		s.publishEvent(ctx, events.EventPaymentClaimed, r, actorCustomer)
		return r, nil
	}
	if r.Status == models.StatusPaymentClaimed || r.Status == models.StatusConfirmed {
		return r, nil
	}
	return nil, invalidTransition(r, models.StatusPaymentClaimed)
}

// ConfirmPayment lets the customer confirm without admin review. Only slots
// flagged self_confirm allow it.
func (s *BookingService) ConfirmPayment(ctx context.Context, ref string) (*models.Reservation, error) {
	current, err := s.LookupByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	slot, err := s.ledger.GetSlot(ctx, current.SlotID)
	if err != nil {
		return nil, translate(err)
	}
	if !slot.SelfConfirm {
		return nil, fmt.Errorf("%w: slot %d requires admin confirmation", ErrInvalidTransition, slot.ID)
	}

	r, changed, err := s.transition(ctx, current.Reference, models.StatusConfirmed, liveStatuses...)
	if err != nil {
		return nil, err
	}
	if changed {
		s.publishEvent(ctx, events.EventBookingConfirmed, r, actorCustomer)
		return r, nil
	}
	if r.Status == models.StatusConfirmed {
		return r, nil
	}
	return nil, invalidTransition(r, models.StatusConfirmed)
}

func (s *BookingService) LookupByReference(ctx context.Context, ref string) (*models.Reservation, error) {
	r, err := s.ledger.GetReservationByReference(ctx, reference.Normalize(ref))
	if err != nil {
		return nil, translate(err)
	}
	return r, nil
}

func (s *BookingService) AdminConfirm(ctx context.Context, ref string) (*models.Reservation, error) {
	return s.adminTransition(ctx, ref, models.StatusConfirmed, events.EventBookingConfirmed)
}

func (s *BookingService) AdminDecline(ctx context.Context, ref string) (*models.Reservation, error) {
	return s.adminTransition(ctx, ref, models.StatusDeclined, events.EventBookingDeclined)
}

func (s *BookingService) AdminCancel(ctx context.Context, ref string) (*models.Reservation, error) {
	return s.adminTransition(ctx, ref, models.StatusCancelled, events.EventBookingCancelled)
}

func (s *BookingService) ExportLedger(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerRow, error) {
	rows, err := s.ledger.ExportReservations(ctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	return rows, nil
}

func (s *BookingService) adminTransition(
	ctx context.Context,
	ref string,
	to models.ReservationStatus,
	eventType string,
) (*models.Reservation, error) {
	r, changed, err := s.transition(ctx, ref, to, liveStatuses...)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, invalidTransition(r, to)
	}
	s.publishEvent(ctx, eventType, r, actorAdmin)
	return r, nil
}

func (s *BookingService) transition(
	ctx context.Context,
	ref string,
	to models.ReservationStatus,
	from ...models.ReservationStatus,
) (*models.Reservation, bool, error) {
	r, changed, err := s.ledger.TransitionStatus(ctx, reference.Normalize(ref), to, from...)
	if err != nil {
		return nil, false, translate(err)
	}
	if changed {
		metrics.IncTransition(string(to))
		s.logger.Info().
			Str("reference", r.Reference).
			Str("status", string(r.Status)).
			Msg("reservation status changed")
	}
	return r, changed, nil
}

func (s *BookingService) activeSlot(ctx context.Context, slotID int64) (*models.Slot, error) {
	slot, err := s.ledger.GetSlot(ctx, slotID)
	if err != nil {
		return nil, translate(err)
	}
	if !slot.IsActive {
		return nil, ErrSlotNotFound
	}
	return slot, nil
}

func invalidTransition(r *models.Reservation, to models.ReservationStatus) error {
	return fmt.Errorf("%w: %s is %s, cannot move to %s", ErrInvalidTransition, r.Reference, r.Status, to)
}

func (s *BookingService) publishEvent(ctx context.Context, eventType string, r *models.Reservation, changedBy string) {
	if s.eventBus == nil {
		return
	}

	payload := events.ReservationEventPayload{
		ReservationID: r.ID,
		Reference:     r.Reference,
		SlotID:        r.SlotID,
		Status:        string(r.Status),
		FirstName:     r.Customer.FirstName,
		LastName:      r.Customer.LastName,
		Email:         r.Customer.Email,
		Phone:         r.Customer.Phone,
		ChangedBy:     changedBy,
		OccurredAt:    s.now().UTC(),
	}
	if slot, err := s.ledger.GetSlot(ctx, r.SlotID); err == nil {
		payload.SlotName = slot.Name
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("reference", r.Reference).Msg("publish event error")
	}
}
