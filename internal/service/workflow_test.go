package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clinicbook/internal/config"
	"clinicbook/internal/models"
	"clinicbook/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkflow(t *testing.T, cfg config.BookingConfig, slots ...models.Slot) (*Workflow, *BookingService) {
	t.Helper()
	svc, _, _ := newTestService(t, slots...)
	sessions := repository.NewMemorySessionRepository(time.Hour)
	return NewWorkflow(sessions, svc, cfg, nopLogger()), svc
}

func TestWorkflow_FullFlow(t *testing.T) {
	ctx := context.Background()
	wf, svc := newTestWorkflow(t, testBookingConfig, testSlot(1, 5))

	session, err := wf.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StepSelecting, session.Step)
	assert.NotEmpty(t, session.ID)

	// details before a slot is chosen
	_, err = wf.CaptureDetails(ctx, session.ID, validCustomer("ada@example.com"))
	assert.ErrorIs(t, err, ErrInvalidStep)

	// submit before details
	_, err = wf.SubmitForPayment(ctx, session.ID)
	assert.ErrorIs(t, err, ErrInvalidStep)

	session, err = wf.SelectSlot(ctx, session.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), session.SlotID)
	assert.Equal(t, models.StepSelecting, session.Step)

	_, err = wf.CaptureDetails(ctx, session.ID, models.Customer{FirstName: "Ada", Email: "bad"})
	assert.ErrorIs(t, err, ErrValidation)

	unchanged, err := wf.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, unchanged.Customer)
	assert.Equal(t, models.StepSelecting, unchanged.Step)

	session, err = wf.CaptureDetails(ctx, session.ID, validCustomer(" ada@example.com"))
	require.NoError(t, err)
	assert.Equal(t, models.StepDetailsCaptured, session.Step)
	assert.Equal(t, "ada@example.com", session.Customer.Email)

	session, err = wf.SubmitForPayment(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingPayment, session.Step)
	require.NotEmpty(t, session.Reference)
	ref := session.Reference

	// a second submit does not create another reservation
	session, err = wf.SubmitForPayment(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, ref, session.Reference)
	rows, err := svc.ExportLedger(ctx, models.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = wf.SelectSlot(ctx, session.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidStep)

	session, err = wf.ClaimPayment(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPaymentClaimed, session.Step)

	_, err = svc.AdminConfirm(ctx, ref)
	require.NoError(t, err)

	session, err = wf.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirmed, session.Step)
}

func TestWorkflow_SelectSlotUnavailable(t *testing.T) {
	ctx := context.Background()
	wf, svc := newTestWorkflow(t, testBookingConfig, testSlot(1, 1))

	_, err := svc.StartBooking(ctx, 1, validCustomer("first@example.com"))
	require.NoError(t, err)

	session, err := wf.Begin(ctx)
	require.NoError(t, err)

	_, err = wf.SelectSlot(ctx, session.ID, 1)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.ErrorIs(t, err, ErrSlotFull)

	_, err = wf.SelectSlot(ctx, session.ID, 42)
	assert.ErrorIs(t, err, ErrSlotUnavailable)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	got, err := wf.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepSelecting, got.Step)
	assert.Zero(t, got.SlotID)
}

// slowBookings stretches StartBooking so concurrent submits overlap.
type slowBookings struct {
	*BookingService
	delay time.Duration
}

func (s *slowBookings) StartBooking(ctx context.Context, slotID int64, customer models.Customer) (*models.Reservation, error) {
	time.Sleep(s.delay)
	return s.BookingService.StartBooking(ctx, slotID, customer)
}

func TestWorkflow_ConcurrentSubmitBooksOnce(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, testSlot(1, 5))
	sessions := repository.NewMemorySessionRepository(time.Hour)
	wf := NewWorkflow(sessions, &slowBookings{BookingService: svc, delay: 50 * time.Millisecond}, testBookingConfig, nopLogger())

	s, err := wf.Begin(ctx)
	require.NoError(t, err)
	_, err = wf.SelectSlot(ctx, s.ID, 1)
	require.NoError(t, err)
	_, err = wf.CaptureDetails(ctx, s.ID, validCustomer("ada@example.com"))
	require.NoError(t, err)

	const submitters = 3
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		refs  = make([]string, submitters)
		errs  = make([]error, submitters)
	)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			got, err := wf.SubmitForPayment(ctx, s.ID)
			errs[i] = err
			if got != nil {
				refs[i] = got.Reference
			}
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < submitters; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, refs[0], refs[i])
	}
	assert.NotEmpty(t, refs[0])

	rows, err := svc.ExportLedger(ctx, models.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	adm, err := svc.Admit(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, adm.Live)
}

func TestWorkflow_SubmitWaitsForHeldLock(t *testing.T) {
	ctx := context.Background()
	sessions := repository.NewMemorySessionRepository(time.Hour)
	svc, _, _ := newTestService(t, testSlot(1, 5))
	wf := NewWorkflow(sessions, svc, testBookingConfig, nopLogger())

	s, err := wf.Begin(ctx)
	require.NoError(t, err)
	_, err = wf.SelectSlot(ctx, s.ID, 1)
	require.NoError(t, err)
	_, err = wf.CaptureDetails(ctx, s.ID, validCustomer("ada@example.com"))
	require.NoError(t, err)

	ok, err := sessions.AcquireLock(ctx, submitLockPrefix+s.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = wf.SubmitForPayment(waitCtx, s.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, sessions.ReleaseLock(ctx, submitLockPrefix+s.ID))
	got, err := wf.SubmitForPayment(ctx, s.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Reference)

	// the lock is released after a submit
	ok, err = sessions.AcquireLock(ctx, submitLockPrefix+s.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkflow_SubmitSlotFullKeepsDetails(t *testing.T) {
	ctx := context.Background()
	wf, _ := newTestWorkflow(t, testBookingConfig, testSlot(1, 1))

	prepare := func(email string) string {
		s, err := wf.Begin(ctx)
		require.NoError(t, err)
		_, err = wf.SelectSlot(ctx, s.ID, 1)
		require.NoError(t, err)
		_, err = wf.CaptureDetails(ctx, s.ID, validCustomer(email))
		require.NoError(t, err)
		return s.ID
	}

	first := prepare("first@example.com")
	second := prepare("second@example.com")

	_, err := wf.SubmitForPayment(ctx, first)
	require.NoError(t, err)

	_, err = wf.SubmitForPayment(ctx, second)
	assert.ErrorIs(t, err, ErrSlotFull)

	got, err := wf.Get(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, models.StepDetailsCaptured, got.Step)
	assert.Empty(t, got.Reference)
}

func TestWorkflow_SubmitRateLimited(t *testing.T) {
	ctx := context.Background()
	cfg := testBookingConfig
	cfg.SubmitRateLimit = 1
	cfg.SubmitRateWindow = 3600
	wf, _ := newTestWorkflow(t, cfg, testSlot(1, 5))

	submit := func() error {
		s, err := wf.Begin(ctx)
		require.NoError(t, err)
		_, err = wf.SelectSlot(ctx, s.ID, 1)
		require.NoError(t, err)
		_, err = wf.CaptureDetails(ctx, s.ID, validCustomer("Ada@Example.com"))
		require.NoError(t, err)
		_, err = wf.SubmitForPayment(ctx, s.ID)
		return err
	}

	require.NoError(t, submit())
	assert.ErrorIs(t, submit(), ErrRateLimited)
}

func TestWorkflow_SelfConfirm(t *testing.T) {
	ctx := context.Background()
	slot := testSlot(1, 5)
	slot.SelfConfirm = true
	wf, _ := newTestWorkflow(t, testBookingConfig, slot)

	s, err := wf.Begin(ctx)
	require.NoError(t, err)
	_, err = wf.ConfirmPayment(ctx, s.ID)
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, err = wf.SelectSlot(ctx, s.ID, 1)
	require.NoError(t, err)
	_, err = wf.CaptureDetails(ctx, s.ID, validCustomer("ada@example.com"))
	require.NoError(t, err)
	_, err = wf.SubmitForPayment(ctx, s.ID)
	require.NoError(t, err)

	s, err = wf.ConfirmPayment(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepConfirmed, s.Step)
}

func TestWorkflow_UnknownSession(t *testing.T) {
	ctx := context.Background()
	wf, _ := newTestWorkflow(t, testBookingConfig, testSlot(1, 5))

	_, err := wf.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = wf.SelectSlot(ctx, "missing", 1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

type brokenSessions struct{}

func (b *brokenSessions) GetSession(context.Context, string) (*models.BookingSession, error) {
	return nil, errors.New("redis: connection refused")
}

func (b *brokenSessions) SaveSession(context.Context, *models.BookingSession) error {
	return errors.New("redis: connection refused")
}

func (b *brokenSessions) DeleteSession(context.Context, string) error { return nil }

func (b *brokenSessions) CheckRateLimit(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (b *brokenSessions) AcquireLock(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (b *brokenSessions) ReleaseLock(context.Context, string) error { return nil }

func TestWorkflow_SessionStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, testSlot(1, 5))
	wf := NewWorkflow(&brokenSessions{}, svc, testBookingConfig, nopLogger())

	_, err := wf.Begin(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = wf.Get(ctx, "any")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
