package service

import (
	"io"
	"path/filepath"
	"sync"
	"testing"

	"clinicbook/internal/config"
	"clinicbook/internal/database"
	"clinicbook/internal/events"
	"clinicbook/internal/models"
	"clinicbook/internal/reference"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testBookingConfig = config.BookingConfig{
	ReferencePrefix:   "CB",
	ReferenceAttempts: 3,
	MinPhoneDigits:    7,
}

func nopLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func validCustomer(email string) models.Customer {
	return models.Customer{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     email,
		Phone:     "+44 20 7946 0000",
	}
}

func testSlot(id int64, capacity int) models.Slot {
	return models.Slot{
		ID:         id,
		Name:       "Clinic session",
		Kind:       models.KindClinic,
		Capacity:   capacity,
		PriceCents: 12500,
		Currency:   "EUR",
		IsActive:   true,
	}
}

// setupLedger opens a file-backed ledger so concurrent writers hit the real
// SQLite locking.
func setupLedger(t *testing.T, slots ...models.Slot) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "ledger.db"), nopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.SyncSlots(t.Context(), slots))
	return db
}

// recorder collects every event published on a bus.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Type    string
	Payload []byte
}

func newRecorder() (*events.EventBus, *recorder) {
	bus := events.NewEventBus()
	rec := &recorder{}
	bus.SubscribeAll(events.AllBookingEvents, func(e *events.Event) error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events = append(rec.events, recordedEvent{Type: e.Type, Payload: e.Payload})
		return nil
	})
	return bus, rec
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, t := range r.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

// sequenceAllocator hands out fixed references first, then real ones.
type sequenceAllocator struct {
	mu       sync.Mutex
	refs     []string
	fallback *reference.Allocator
}

func newSequenceAllocator(refs ...string) *sequenceAllocator {
	return &sequenceAllocator{refs: refs, fallback: reference.New("CB")}
}

func (a *sequenceAllocator) Allocate() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.refs) > 0 {
		ref := a.refs[0]
		a.refs = a.refs[1:]
		return ref
	}
	return a.fallback.Allocate()
}

func newTestService(t *testing.T, slots ...models.Slot) (*BookingService, *database.DB, *recorder) {
	t.Helper()
	db := setupLedger(t, slots...)
	bus, rec := newRecorder()
	svc := NewBookingService(db, reference.New("CB"), bus, testBookingConfig, nopLogger())
	return svc, db, rec
}
