package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"dukapos/backend/internal/domain"
)

const pendingOrderKeyPrefix = "dukapos:pesapal:order:"

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	Del(context.Context, ...string) *redis.IntCmd
}

type RedisPendingOrders struct {
	store cmdable
	raw   *redis.Client
}

func NewRedisPendingOrders(addr string, password string, db int) *RedisPendingOrders {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisPendingOrders{store: client, raw: client}
}

func (c *RedisPendingOrders) Ping(ctx context.Context) error {
	return c.store.Ping(ctx).Err()
}

func (c *RedisPendingOrders) Close() error {
	if c.raw == nil {
		return nil
	}
	return c.raw.Close()
}

func (c *RedisPendingOrders) SavePendingOrder(ctx context.Context, order domain.PendingOrder, ttl time.Duration) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, pendingOrderKey(order.TrackingID), payload, ttl).Err()
}

func (c *RedisPendingOrders) GetPendingOrder(ctx context.Context, trackingID string) (*domain.PendingOrder, bool, error) {
	val, err := c.store.Get(ctx, pendingOrderKey(trackingID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var order domain.PendingOrder
	if err := json.Unmarshal([]byte(val), &order); err != nil {
		return nil, false, err
	}
	return &order, true, nil
}

func (c *RedisPendingOrders) DeletePendingOrder(ctx context.Context, trackingID string) error {
	return c.store.Del(ctx, pendingOrderKey(trackingID)).Err()
}

func pendingOrderKey(trackingID string) string {
	return pendingOrderKeyPrefix + trackingID
}
