package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"clinicbook/internal/database"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrSlotNotFound      = errors.New("slot not found")
	ErrNotFound          = errors.New("reservation not found")
	ErrSlotFull          = errors.New("slot is full")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAllocationFailed  = errors.New("reference allocation failed")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrSessionNotFound   = errors.New("booking session not found")
	ErrInvalidStep       = errors.New("action not allowed at this step")
	ErrRateLimited       = errors.New("too many submissions")
)

// ValidationError lists every offending customer field with a message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// translate maps ledger errors onto the service taxonomy. Anything the
// ledger does not name is treated as the store being unavailable.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrSlotNotFound):
		return ErrSlotNotFound
	case errors.Is(err, database.ErrSlotFull):
		return ErrSlotFull
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
