package memory

import (
	"context"
	"strings"
	"sync"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/store"
)

type Store struct {
	mu               sync.RWMutex
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
}

func New() *Store {
	return &Store{
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
	}
}

func (s *Store) LoadActiveShift(_ context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByKey[shiftMapKey(storeID, terminalID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	copyShift := cloneShift(shift)
	return &copyShift, nil
}

func (s *Store) SaveShift(_ context.Context, shift domain.Shift) error {
	if strings.TrimSpace(shift.ID) == "" || strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.TerminalID) == "" {
		return store.ErrInvalidShift
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(shift.StoreID, shift.TerminalID)
	if activeID, exists := s.activeShiftByKey[key]; exists && activeID != shift.ID && shift.Status == domain.ShiftStatusOpen {
		return store.ErrShiftConflict
	}
	if existing, exists := s.shiftsByID[shift.ID]; exists {
		if existing.Status == domain.ShiftStatusClosed {
			return store.ErrInvalidShift
		}
		if len(shift.Entries) < len(existing.Entries) {
			return store.ErrInvalidShift
		}
	}

	s.shiftsByID[shift.ID] = cloneShift(shift)
	switch shift.Status {
	case domain.ShiftStatusOpen:
		s.activeShiftByKey[key] = shift.ID
	default:
		if s.activeShiftByKey[key] == shift.ID {
			delete(s.activeShiftByKey, key)
		}
	}
	return nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyShift := cloneShift(shift)
	return &copyShift, nil
}

func cloneShift(shift domain.Shift) domain.Shift {
	out := shift
	out.Entries = append([]domain.ShiftEntry(nil), shift.Entries...)
	if shift.ClosedAt != nil {
		at := *shift.ClosedAt
		out.ClosedAt = &at
	}
	if shift.Closing != nil {
		report := *shift.Closing
		out.Closing = &report
	}
	return out
}

func shiftMapKey(storeID string, terminalID string) string {
	return storeID + "::" + terminalID
}
