package database

import (
	"context"
	"testing"

	"clinicbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncSlots(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	clinic := testSlot(1, 10)
	clinic.SortOrder = 2
	course := testSlot(2, 4)
	course.Kind = models.KindCourse
	course.SortOrder = 1
	hidden := testSlot(3, 1)
	hidden.IsActive = false

	seedSlots(t, db, clinic, course, hidden)

	t.Run("ListActiveSlotsOrdered", func(t *testing.T) {
		slots, err := db.ListActiveSlots(ctx)
		require.NoError(t, err)
		require.Len(t, slots, 2)
		assert.Equal(t, int64(2), slots[0].ID)
		assert.Equal(t, int64(1), slots[1].ID)
	})

	t.Run("GetSlotIncludesInactive", func(t *testing.T) {
		slot, err := db.GetSlot(ctx, 3)
		require.NoError(t, err)
		assert.False(t, slot.IsActive)
	})

	t.Run("GetSlotMissing", func(t *testing.T) {
		_, err := db.GetSlot(ctx, 99)
		assert.ErrorIs(t, err, ErrSlotNotFound)
	})

	t.Run("PriceIsImmutable", func(t *testing.T) {
		changed := clinic
		changed.PriceCents = 99999
		changed.Name = "Renamed clinic"
		seedSlots(t, db, changed)

		slot, err := db.GetSlot(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Renamed clinic", slot.Name)
		assert.Equal(t, int64(12500), slot.PriceCents)
	})

	t.Run("SelfConfirmFlag", func(t *testing.T) {
		flagged := course
		flagged.SelfConfirm = true
		seedSlots(t, db, flagged)

		slot, err := db.GetSlot(ctx, 2)
		require.NoError(t, err)
		assert.True(t, slot.SelfConfirm)
	})
}

func TestSyncSlots_RetiresRemovedSlots(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seedSlots(t, db, testSlot(1, 2), testSlot(2, 2))
	require.NoError(t, db.CreateReservationWithLock(ctx, testReservation(2, "CB-RETIRED")))

	seedSlots(t, db, testSlot(1, 2))

	slots, err := db.ListActiveSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, int64(1), slots[0].ID)

	retired, err := db.GetSlot(ctx, 2)
	require.NoError(t, err)
	assert.False(t, retired.IsActive)

	err = db.CreateReservationWithLock(ctx, testReservation(2, "CB-AFTER"))
	assert.ErrorIs(t, err, ErrSlotNotFound)

	// existing reservations survive retirement
	got, err := db.GetReservationByReference(ctx, "CB-RETIRED")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.SlotID)

	// listing it again brings it back
	seedSlots(t, db, testSlot(1, 2), testSlot(2, 2))
	slots, err = db.ListActiveSlots(ctx)
	require.NoError(t, err)
	assert.Len(t, slots, 2)
}

func TestListActiveSlots_LoadsFromDatabase(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedSlots(t, db, testSlot(7, 3))

	db.mu.Lock()
	db.slotsCache = map[int64]models.Slot{}
	db.mu.Unlock()

	slots, err := db.ListActiveSlots(ctx)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 3, slots[0].Capacity)
}
