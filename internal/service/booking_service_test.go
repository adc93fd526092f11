package service

import (
	"context"
	"errors"
	"testing"

	"clinicbook/internal/database"
	"clinicbook/internal/events"
	"clinicbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Slot), args.Error(1)
}

func (m *mockLedger) ListActiveSlots(ctx context.Context) ([]models.Slot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Slot), args.Error(1)
}

func (m *mockLedger) LiveCount(ctx context.Context, slotID int64) (int, error) {
	args := m.Called(ctx, slotID)
	return args.Int(0), args.Error(1)
}

func (m *mockLedger) LiveCounts(ctx context.Context) (map[int64]int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]int), args.Error(1)
}

func (m *mockLedger) CreateReservationWithLock(ctx context.Context, r *models.Reservation) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockLedger) GetReservationByReference(ctx context.Context, ref string) (*models.Reservation, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Reservation), args.Error(1)
}

func (m *mockLedger) TransitionStatus(
	ctx context.Context,
	ref string,
	to models.ReservationStatus,
	from ...models.ReservationStatus,
) (*models.Reservation, bool, error) {
	args := m.Called(ctx, ref, to, from)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.Reservation), args.Bool(1), args.Error(2)
}

func (m *mockLedger) ExportReservations(ctx context.Context, f models.LedgerFilter) ([]models.LedgerRow, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerRow), args.Error(1)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

func reservationWith(ref string, status models.ReservationStatus) *models.Reservation {
	return &models.Reservation{ID: 1, SlotID: 1, Reference: ref, Status: status, Customer: validCustomer("ada@example.com")}
}

func TestBookingService_StartBooking(t *testing.T) {
	ctx := context.Background()
	slot := testSlot(1, 10)

	t.Run("ValidationFailsBeforeLedger", func(t *testing.T) {
		ledger := new(mockLedger)
		bus := new(mockEventBus)
		svc := NewBookingService(ledger, newSequenceAllocator(), bus, testBookingConfig, nopLogger())

		_, err := svc.StartBooking(ctx, 1, models.Customer{FirstName: " ", Email: "not-an-email", Phone: "12"})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrValidation)

		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Fields, "first_name")
		assert.Contains(t, vErr.Fields, "last_name")
		assert.Contains(t, vErr.Fields, "email")
		assert.Contains(t, vErr.Fields, "phone")

		ledger.AssertNotCalled(t, "CreateReservationWithLock", mock.Anything, mock.Anything)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("RetriesOnReferenceCollision", func(t *testing.T) {
		ledger := new(mockLedger)
		bus := new(mockEventBus)
		alloc := newSequenceAllocator("CB-AAAA", "CB-BBBB")
		svc := NewBookingService(ledger, alloc, bus, testBookingConfig, nopLogger())

		ledger.On("CreateReservationWithLock", ctx, mock.MatchedBy(func(r *models.Reservation) bool {
			return r.Reference == "CB-AAAA"
		})).Return(database.ErrDuplicateReference).Once()
		ledger.On("CreateReservationWithLock", ctx, mock.MatchedBy(func(r *models.Reservation) bool {
			return r.Reference == "CB-BBBB"
		})).Return(nil).Once()
		ledger.On("GetSlot", ctx, int64(1)).Return(&slot, nil)
		bus.On("PublishJSON", events.EventBookingCreated, mock.MatchedBy(func(p events.ReservationEventPayload) bool {
			return p.Reference == "CB-BBBB" && p.SlotName == slot.Name && p.Status == "pending"
		})).Return(nil).Once()

		r, err := svc.StartBooking(ctx, 1, validCustomer(" ada@example.com "))
		require.NoError(t, err)
		assert.Equal(t, "CB-BBBB", r.Reference)
		assert.Equal(t, models.StatusPending, r.Status)
		assert.Equal(t, "ada@example.com", r.Customer.Email)

		ledger.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("AllocationExhausted", func(t *testing.T) {
		ledger := new(mockLedger)
		bus := new(mockEventBus)
		svc := NewBookingService(ledger, newSequenceAllocator(), bus, testBookingConfig, nopLogger())

		ledger.On("CreateReservationWithLock", ctx, mock.Anything).Return(database.ErrDuplicateReference).Times(3)

		_, err := svc.StartBooking(ctx, 1, validCustomer("ada@example.com"))
		assert.ErrorIs(t, err, ErrAllocationFailed)
		ledger.AssertExpectations(t)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("LedgerErrorsAreTranslated", func(t *testing.T) {
		tests := []struct {
			name    string
			ledger  error
			wantErr error
		}{
			{name: "full", ledger: database.ErrSlotFull, wantErr: ErrSlotFull},
			{name: "unknown slot", ledger: database.ErrSlotNotFound, wantErr: ErrSlotNotFound},
			{name: "store", ledger: errors.New("disk I/O error"), wantErr: ErrStoreUnavailable},
			{name: "deadline", ledger: context.DeadlineExceeded, wantErr: ErrStoreUnavailable},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				ledger := new(mockLedger)
				bus := new(mockEventBus)
				svc := NewBookingService(ledger, newSequenceAllocator(), bus, testBookingConfig, nopLogger())
				ledger.On("CreateReservationWithLock", ctx, mock.Anything).Return(tt.ledger).Once()

				_, err := svc.StartBooking(ctx, 1, validCustomer("ada@example.com"))
				assert.ErrorIs(t, err, tt.wantErr)
				bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("PublishErrorIsSwallowed", func(t *testing.T) {
		ledger := new(mockLedger)
		bus := new(mockEventBus)
		svc := NewBookingService(ledger, newSequenceAllocator("CB-CCCC"), bus, testBookingConfig, nopLogger())

		ledger.On("CreateReservationWithLock", ctx, mock.Anything).Return(nil).Once()
		ledger.On("GetSlot", ctx, int64(1)).Return(nil, database.ErrSlotNotFound)
		bus.On("PublishJSON", events.EventBookingCreated, mock.Anything).Return(errors.New("bus down")).Once()

		r, err := svc.StartBooking(ctx, 1, validCustomer("ada@example.com"))
		require.NoError(t, err)
		assert.Equal(t, "CB-CCCC", r.Reference)
	})
}

func TestBookingService_Transitions(t *testing.T) {
	ctx := context.Background()
	slot := testSlot(1, 10)

	newSvc := func() (*BookingService, *mockLedger, *mockEventBus) {
		ledger := new(mockLedger)
		bus := new(mockEventBus)
		ledger.On("GetSlot", mock.Anything, int64(1)).Return(&slot, nil).Maybe()
		return NewBookingService(ledger, newSequenceAllocator(), bus, testBookingConfig, nopLogger()), ledger, bus
	}
	pending := []models.ReservationStatus{models.StatusPending}
	live := []models.ReservationStatus{models.StatusPending, models.StatusPaymentClaimed}

	t.Run("ClaimPaymentIsIdempotent", func(t *testing.T) {
		svc, ledger, bus := newSvc()
		claimed := reservationWith("CB-1", models.StatusPaymentClaimed)
		ledger.On("TransitionStatus", ctx, "CB-1", models.StatusPaymentClaimed, pending).Return(claimed, true, nil).Once()
		ledger.On("TransitionStatus", ctx, "CB-1", models.StatusPaymentClaimed, pending).Return(claimed, false, nil).Once()
		bus.On("PublishJSON", events.EventPaymentClaimed, mock.Anything).Return(nil).Once()

		r, err := svc.ClaimPayment(ctx, "cb-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaymentClaimed, r.Status)

		r, err = svc.ClaimPayment(ctx, "CB-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPaymentClaimed, r.Status)

		bus.AssertNumberOfCalls(t, "PublishJSON", 1)
	})

	t.Run("ClaimPaymentOnConfirmedIsNoop", func(t *testing.T) {
		svc, ledger, bus := newSvc()
		confirmed := reservationWith("CB-2", models.StatusConfirmed)
		ledger.On("TransitionStatus", ctx, "CB-2", models.StatusPaymentClaimed, pending).Return(confirmed, false, nil).Once()

		r, err := svc.ClaimPayment(ctx, "CB-2")
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, r.Status)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("ClaimPaymentOnDeclinedFails", func(t *testing.T) {
		svc, ledger, _ := newSvc()
		declined := reservationWith("CB-3", models.StatusDeclined)
		ledger.On("TransitionStatus", ctx, "CB-3", models.StatusPaymentClaimed, pending).Return(declined, false, nil).Once()

		_, err := svc.ClaimPayment(ctx, "CB-3")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("UnknownReference", func(t *testing.T) {
		svc, ledger, _ := newSvc()
		ledger.On("TransitionStatus", ctx, "CB-404", models.StatusPaymentClaimed, pending).
			Return(nil, false, database.ErrNotFound).Once()
		ledger.On("GetReservationByReference", ctx, "CB-404").Return(nil, database.ErrNotFound).Once()

		_, err := svc.ClaimPayment(ctx, "CB-404")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = svc.LookupByReference(ctx, "CB-404")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("AdminTransitionsPublishOnce", func(t *testing.T) {
		tests := []struct {
			name  string
			call  func(*BookingService, context.Context, string) (*models.Reservation, error)
			to    models.ReservationStatus
			event string
		}{
			{name: "confirm", call: (*BookingService).AdminConfirm, to: models.StatusConfirmed, event: events.EventBookingConfirmed},
			{name: "decline", call: (*BookingService).AdminDecline, to: models.StatusDeclined, event: events.EventBookingDeclined},
			{name: "cancel", call: (*BookingService).AdminCancel, to: models.StatusCancelled, event: events.EventBookingCancelled},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc, ledger, bus := newSvc()
				after := reservationWith("CB-9", tt.to)
				ledger.On("TransitionStatus", ctx, "CB-9", tt.to, live).Return(after, true, nil).Once()
				ledger.On("TransitionStatus", ctx, "CB-9", tt.to, live).Return(after, false, nil).Once()
				bus.On("PublishJSON", tt.event, mock.MatchedBy(func(p events.ReservationEventPayload) bool {
					return p.ChangedBy == "admin" && p.Status == string(tt.to)
				})).Return(nil).Once()

				r, err := tt.call(svc, ctx, "CB-9")
				require.NoError(t, err)
				assert.Equal(t, tt.to, r.Status)

				// terminal now, a second call is rejected
				_, err = tt.call(svc, ctx, "CB-9")
				assert.ErrorIs(t, err, ErrInvalidTransition)
				bus.AssertExpectations(t)
			})
		}
	})

	t.Run("SelfConfirmRequiresFlag", func(t *testing.T) {
		svc, ledger, bus := newSvc()
		ledger.On("GetReservationByReference", ctx, "CB-5").Return(reservationWith("CB-5", models.StatusPaymentClaimed), nil)

		_, err := svc.ConfirmPayment(ctx, "CB-5")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		ledger.AssertNotCalled(t, "TransitionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("SelfConfirmAllowed", func(t *testing.T) {
		ledger := new(mockLedger)
		bus := new(mockEventBus)
		selfSlot := testSlot(1, 10)
		selfSlot.SelfConfirm = true
		ledger.On("GetSlot", mock.Anything, int64(1)).Return(&selfSlot, nil)
		svc := NewBookingService(ledger, newSequenceAllocator(), bus, testBookingConfig, nopLogger())

		ledger.On("GetReservationByReference", ctx, "CB-6").Return(reservationWith("CB-6", models.StatusPending), nil)
		ledger.On("TransitionStatus", ctx, "CB-6", models.StatusConfirmed, live).
			Return(reservationWith("CB-6", models.StatusConfirmed), true, nil).Once()
		bus.On("PublishJSON", events.EventBookingConfirmed, mock.Anything).Return(nil).Once()

		r, err := svc.ConfirmPayment(ctx, "CB-6")
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, r.Status)
		bus.AssertExpectations(t)
	})
}

func TestBookingService_Catalog(t *testing.T) {
	ctx := context.Background()

	t.Run("Admit", func(t *testing.T) {
		ledger := new(mockLedger)
		svc := NewBookingService(ledger, newSequenceAllocator(), nil, testBookingConfig, nopLogger())
		slot := testSlot(1, 2)
		inactive := testSlot(2, 2)
		inactive.IsActive = false

		ledger.On("GetSlot", ctx, int64(1)).Return(&slot, nil)
		ledger.On("GetSlot", ctx, int64(2)).Return(&inactive, nil)
		ledger.On("GetSlot", ctx, int64(3)).Return(nil, database.ErrSlotNotFound)
		ledger.On("LiveCount", ctx, int64(1)).Return(1, nil).Once()
		ledger.On("LiveCount", ctx, int64(1)).Return(2, nil).Once()

		adm, err := svc.Admit(ctx, 1)
		require.NoError(t, err)
		assert.True(t, adm.Admitted)

		adm, err = svc.Admit(ctx, 1)
		require.NoError(t, err)
		assert.False(t, adm.Admitted)
		assert.Equal(t, "slot_full", adm.Reason)

		_, err = svc.Admit(ctx, 2)
		assert.ErrorIs(t, err, ErrSlotNotFound)
		_, err = svc.Admit(ctx, 3)
		assert.ErrorIs(t, err, ErrSlotNotFound)
	})

	t.Run("ListAvailableSlots", func(t *testing.T) {
		ledger := new(mockLedger)
		svc := NewBookingService(ledger, newSequenceAllocator(), nil, testBookingConfig, nopLogger())

		ledger.On("ListActiveSlots", ctx).Return([]models.Slot{testSlot(1, 3), testSlot(2, 1)}, nil)
		ledger.On("LiveCounts", ctx).Return(map[int64]int{1: 1, 2: 1}, nil)

		got, err := svc.ListAvailableSlots(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 2, got[0].Remaining)
		assert.Equal(t, 0, got[1].Remaining)
	})

	t.Run("StoreUnavailable", func(t *testing.T) {
		ledger := new(mockLedger)
		svc := NewBookingService(ledger, newSequenceAllocator(), nil, testBookingConfig, nopLogger())
		ledger.On("ListActiveSlots", ctx).Return(nil, errors.New("database is locked"))
		ledger.On("ExportReservations", ctx, mock.Anything).Return(nil, errors.New("database is locked"))

		_, err := svc.ListAvailableSlots(ctx)
		assert.ErrorIs(t, err, ErrStoreUnavailable)
		_, err = svc.ExportLedger(ctx, models.LedgerFilter{})
		assert.ErrorIs(t, err, ErrStoreUnavailable)
	})
}
