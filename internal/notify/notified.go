// Package notify formats and delivers match notifications. Delivery is best
// effort and idempotent: a (driver ride, request, date) triple is announced at
// most once per prefix, and records deleted mid-match are never announced.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	redisclient "github.com/kfirel/hiker/pkg/redis"
)

// notifiedTTL bounds how long match keys are remembered. Past-dated trips
// stop mattering long before this expires.
const notifiedTTL = 30 * 24 * time.Hour

// NotifiedSet remembers which matches were already announced.
type NotifiedSet interface {
	// MarkIfNew records the match key and reports true when this call
	// inserted it. Idempotent.
	MarkIfNew(ctx context.Context, prefix, rideID, requestID, date string) (bool, error)
}

func matchKey(prefix, rideID, requestID, date string) string {
	return fmt.Sprintf("notified:%s%s:%s:%s", prefix, rideID, requestID, date)
}

// RedisNotifiedSet backs the set with Redis SETNX, shared across instances.
type RedisNotifiedSet struct {
	client redisclient.ClientInterface
}

// NewRedisNotifiedSet wraps a Redis client.
func NewRedisNotifiedSet(client redisclient.ClientInterface) *RedisNotifiedSet {
	return &RedisNotifiedSet{client: client}
}

// MarkIfNew implements NotifiedSet.
func (r *RedisNotifiedSet) MarkIfNew(ctx context.Context, prefix, rideID, requestID, date string) (bool, error) {
	return r.client.SetNXWithExpiration(ctx, matchKey(prefix, rideID, requestID, date), 1, notifiedTTL)
}

// MemoryNotifiedSet is the in-process fallback when Redis is not configured.
type MemoryNotifiedSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryNotifiedSet creates an empty in-process set.
func NewMemoryNotifiedSet() *MemoryNotifiedSet {
	return &MemoryNotifiedSet{seen: make(map[string]struct{})}
}

// MarkIfNew implements NotifiedSet.
func (m *MemoryNotifiedSet) MarkIfNew(_ context.Context, prefix, rideID, requestID, date string) (bool, error) {
	key := matchKey(prefix, rideID, requestID, date)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}
