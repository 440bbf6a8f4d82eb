package cache

import (
	"context"
	"sync"
	"time"

	"dukapos/backend/internal/domain"
)

// PendingOrderCache keeps Pesapal orders alive across the redirect
// round-trip until they are verified or expire.
type PendingOrderCache interface {
	SavePendingOrder(ctx context.Context, order domain.PendingOrder, ttl time.Duration) error
	GetPendingOrder(ctx context.Context, trackingID string) (*domain.PendingOrder, bool, error)
	DeletePendingOrder(ctx context.Context, trackingID string) error
}

type memoryEntry struct {
	order     domain.PendingOrder
	expiresAt time.Time
}

// MemoryPendingOrders is the single-process cache used when no Redis is
// configured. Orders are lost on restart.
type MemoryPendingOrders struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryPendingOrders() *MemoryPendingOrders {
	return &MemoryPendingOrders{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryPendingOrders) SavePendingOrder(_ context.Context, order domain.PendingOrder, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{order: order}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[order.TrackingID] = entry
	return nil
}

func (c *MemoryPendingOrders) GetPendingOrder(_ context.Context, trackingID string) (*domain.PendingOrder, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[trackingID]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, trackingID)
		return nil, false, nil
	}
	order := entry.order
	return &order, true, nil
}

func (c *MemoryPendingOrders) DeletePendingOrder(_ context.Context, trackingID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, trackingID)
	return nil
}
