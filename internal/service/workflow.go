package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinicbook/internal/config"
	"clinicbook/internal/domain"
	"clinicbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	submitLockPrefix = "submit-lock:"
	// submitLockTTL bounds how long a crashed submitter can block retries.
	submitLockTTL  = 30 * time.Second
	submitLockPoll = 20 * time.Millisecond
)

// Workflow drives a BookingSession through the guided booking steps.
// Before submission the session store is the only state; afterwards the
// ledger status is authoritative and the session mirrors it.
type Workflow struct {
	sessions       domain.SessionRepository
	bookings       domain.BookingService
	minPhoneDigits int
	submitLimit    int
	submitWindow   time.Duration
	logger         *zerolog.Logger
	now            func() time.Time
}

func NewWorkflow(
	sessions domain.SessionRepository,
	bookings domain.BookingService,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *Workflow {
	w := &Workflow{
		sessions:       sessions,
		bookings:       bookings,
		minPhoneDigits: cfg.MinPhoneDigits,
		submitLimit:    cfg.SubmitRateLimit,
		submitWindow:   cfg.SubmitWindowDuration(),
		logger:         logger,
		now:            time.Now,
	}
	if w.minPhoneDigits <= 0 {
		w.minPhoneDigits = models.DefaultMinPhoneDigits
	}
	return w
}

func (w *Workflow) Begin(ctx context.Context) (*models.BookingSession, error) {
	session := &models.BookingSession{
		ID:   uuid.NewString(),
		Step: models.StepSelecting,
	}
	if err := w.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the session, refreshing its step from the ledger once a
// reservation exists.
func (w *Workflow) Get(ctx context.Context, sessionID string) (*models.BookingSession, error) {
	session, err := w.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasReservation() {
		return session, nil
	}

	r, err := w.bookings.LookupByReference(ctx, session.Reference)
	if err != nil {
		return nil, err
	}
	if step := models.StepForStatus(r.Status); step != session.Step {
		session.Step = step
		if err := w.save(ctx, session); err != nil {
			w.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to persist mirrored step")
		}
	}
	return session, nil
}

func (w *Workflow) SelectSlot(ctx context.Context, sessionID string, slotID int64) (*models.BookingSession, error) {
	session, err := w.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !preSubmission(session) {
		return nil, stepError(session, "select slot")
	}

	adm, err := w.bookings.Admit(ctx, slotID)
	switch {
	case errors.Is(err, ErrSlotNotFound):
		return nil, fmt.Errorf("%w: %w", ErrSlotUnavailable, ErrSlotNotFound)
	case err != nil:
		return nil, err
	case !adm.Admitted:
		return nil, fmt.Errorf("%w: %w", ErrSlotUnavailable, ErrSlotFull)
	}

	session.SlotID = slotID
	if session.Customer == nil {
		session.Step = models.StepSelecting
	}
	if err := w.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (w *Workflow) CaptureDetails(ctx context.Context, sessionID string, customer models.Customer) (*models.BookingSession, error) {
	session, err := w.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !preSubmission(session) || session.SlotID == 0 {
		return nil, stepError(session, "capture details")
	}

	customer = NormalizeCustomer(customer)
	if err := ValidateCustomer(customer, w.minPhoneDigits); err != nil {
		return nil, err
	}

	session.Customer = &customer
	session.Step = models.StepDetailsCaptured
	if err := w.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// SubmitForPayment is the single admission point of the workflow. A
// repeated submit of an already submitted session returns it unchanged.
// Submits of one session are serialized, so a concurrent duplicate waits
// and then sees the stored reference.
func (w *Workflow) SubmitForPayment(ctx context.Context, sessionID string) (*models.BookingSession, error) {
	session, err := w.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HasReservation() {
		return session, nil
	}

	unlock, err := w.lockSubmit(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session, err = w.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HasReservation() {
		return session, nil
	}
	if session.Step != models.StepDetailsCaptured || session.Customer == nil {
		return nil, stepError(session, "submit")
	}

	if w.submitLimit > 0 {
		key := "submit:" + strings.ToLower(session.Customer.Email)
		allowed, err := w.sessions.CheckRateLimit(ctx, key, w.submitLimit, w.submitWindow)
		if err != nil {
			w.logger.Warn().Err(err).Msg("submit rate limit check failed")
		} else if !allowed {
			return nil, ErrRateLimited
		}
	}

	r, err := w.bookings.StartBooking(ctx, session.SlotID, *session.Customer)
	if err != nil {
		return nil, err
	}

	session.Reference = r.Reference
	session.Step = models.StepForStatus(r.Status)
	if err := w.save(ctx, session); err != nil {
		// the reservation is durable; the caller still gets its reference
		w.logger.Error().Err(err).Str("session_id", session.ID).Str("reference", r.Reference).
			Msg("failed to persist submitted session")
	}
	return session, nil
}

func (w *Workflow) ClaimPayment(ctx context.Context, sessionID string) (*models.BookingSession, error) {
	return w.afterSubmission(ctx, sessionID, "claim payment", w.bookings.ClaimPayment)
}

func (w *Workflow) ConfirmPayment(ctx context.Context, sessionID string) (*models.BookingSession, error) {
	return w.afterSubmission(ctx, sessionID, "confirm payment", w.bookings.ConfirmPayment)
}

func (w *Workflow) afterSubmission(
	ctx context.Context,
	sessionID string,
	action string,
	apply func(ctx context.Context, ref string) (*models.Reservation, error),
) (*models.BookingSession, error) {
	session, err := w.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.HasReservation() {
		return nil, stepError(session, action)
	}

	r, err := apply(ctx, session.Reference)
	if err != nil {
		return nil, err
	}

	session.Step = models.StepForStatus(r.Status)
	if err := w.save(ctx, session); err != nil {
		w.logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to persist session step")
	}
	return session, nil
}

// lockSubmit blocks until the per-session submit lock is held or ctx ends.
func (w *Workflow) lockSubmit(ctx context.Context, sessionID string) (func(), error) {
	key := submitLockPrefix + sessionID
	ticker := time.NewTicker(submitLockPoll)
	defer ticker.Stop()

	for {
		ok, err := w.sessions.AcquireLock(ctx, key, submitLockTTL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if ok {
			return func() {
				if err := w.sessions.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
					w.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to release submit lock")
				}
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Workflow) load(ctx context.Context, sessionID string) (*models.BookingSession, error) {
	session, err := w.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (w *Workflow) save(ctx context.Context, session *models.BookingSession) error {
	session.UpdatedAt = w.now().UTC()
	if err := w.sessions.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func preSubmission(session *models.BookingSession) bool {
	if session.HasReservation() {
		return false
	}
	return session.Step == models.StepSelecting || session.Step == models.StepDetailsCaptured
}

func stepError(session *models.BookingSession, action string) error {
	return fmt.Errorf("%w: cannot %s in step %s", ErrInvalidStep, action, session.Step)
}
