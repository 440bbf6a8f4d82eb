package store

import (
	"context"
	"errors"

	"dukapos/backend/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrShiftConflict is returned when a second shift would be open on the
	// same terminal.
	ErrShiftConflict = errors.New("shift already open")
	ErrInvalidShift  = errors.New("invalid shift")
)

// ShiftRepository persists drawer sessions with their entries. SaveShift is
// an upsert of the whole shift; entries are append-only, so a save never
// drops an entry that is already stored.
type ShiftRepository interface {
	LoadActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error)
	SaveShift(ctx context.Context, shift domain.Shift) error
	GetShift(ctx context.Context, shiftID string) (*domain.Shift, error)
}
