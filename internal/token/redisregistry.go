package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry is an optional shared Registry backend for gateway
// deployments running several instances behind a load balancer.
// Keys are namespaced under "agentgate:tokenreg:".
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

// NewRedisRegistry wraps an existing redis client. The caller owns the
// client's lifecycle (creation, TLS, pooling, Close).
func NewRedisRegistry(client *redis.Client) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: "agentgate:tokenreg:"}
}

func (r *RedisRegistry) key(tokenID string) string {
	return r.prefix + tokenID
}

// Put stores entry with a TTL matching its expiry, so revoked/expired rows
// age out of Redis without a separate sweep.
func (r *RedisRegistry) Put(ctx context.Context, entry RegistryEntry) error {
	if entry.TokenID == "" {
		return fmt.Errorf("token: registry entry requires a tokenId")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("token: marshal registry entry: %w", err)
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return r.client.Set(ctx, r.key(entry.TokenID), data, ttl).Err()
}

// Get returns the entry for tokenID.
func (r *RedisRegistry) Get(ctx context.Context, tokenID string) (RegistryEntry, error) {
	data, err := r.client.Get(ctx, r.key(tokenID)).Bytes()
	if err == redis.Nil {
		return RegistryEntry{}, ErrRegistryEntryNotFound
	}
	if err != nil {
		return RegistryEntry{}, fmt.Errorf("token: get registry entry: %w", err)
	}
	var entry RegistryEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return RegistryEntry{}, fmt.Errorf("token: unmarshal registry entry: %w", err)
	}
	return entry, nil
}

// Revoke is a read-modify-write under Redis optimistic locking (WATCH) so
// concurrent revocations from different gateway instances never race.
func (r *RedisRegistry) Revoke(ctx context.Context, tokenID string) error {
	key := r.key(tokenID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrRegistryEntryNotFound
		}
		if err != nil {
			return err
		}
		var entry RegistryEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		entry.IsRevoked = true
		updated, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		ttl := time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Minute
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, updated, ttl)
			return nil
		})
		return err
	}

	if err := r.client.Watch(ctx, txf, key); err != nil {
		if err == ErrRegistryEntryNotFound {
			return err
		}
		return fmt.Errorf("token: revoke registry entry: %w", err)
	}
	return nil
}
