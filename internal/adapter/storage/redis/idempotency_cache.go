package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"exchange-ledger/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

// TransferCache implements ports.IdempotencyCache. It holds the terminal
// record of a transfer under its scoped idempotency key, so retries are
// answered without touching the transaction log.
type TransferCache struct {
	client goredis.Cmdable
	prefix string
}

// NewTransferCache creates a Redis-backed transfer cache.
func NewTransferCache(client goredis.Cmdable) *TransferCache {
	return &TransferCache{
		client: client,
		prefix: "ledger:idempotency:",
	}
}

// Get returns the cached record for key, or nil, nil on a miss.
func (c *TransferCache) Get(ctx context.Context, key string) (*domain.TransferRecord, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}

	var rec domain.TransferRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("redis idempotency decode: %w", err)
	}
	return &rec, nil
}

// Set caches a terminal record. Pending records are never cached.
func (c *TransferCache) Set(ctx context.Context, rec *domain.TransferRecord, ttl time.Duration) error {
	if rec.IdempotencyKey == "" || !rec.IsTerminal() {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis idempotency encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+rec.IdempotencyKey, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
