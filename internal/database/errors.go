package database

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound           = errors.New("reservation not found")
	ErrSlotNotFound       = errors.New("slot not found")
	ErrSlotFull           = errors.New("slot is full")
	ErrDuplicateReference = errors.New("reference already in use")
	ErrTaskNotFound       = errors.New("notification task not found")
)

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
