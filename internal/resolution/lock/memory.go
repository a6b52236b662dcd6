// Package lock serializes resolution runs per tenant.
package lock

import (
	"context"
	"hash/fnv"

	"github.com/google/uuid"

	id "controlplane/pkg/domain"
)

const shardCount = 64

// InMemory is a sharded in-process locker for tests and single-node
// deployments. Tenants hash onto shards, so unrelated tenants can collide on
// a shard; that only costs throughput, never correctness.
type InMemory struct {
	shards [shardCount]chan struct{}
}

// NewInMemory constructs an in-memory locker.
func NewInMemory() *InMemory {
	l := &InMemory{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Acquire blocks until the tenant's shard is free or the context ends.
func (l *InMemory) Acquire(ctx context.Context, tenantID id.TenantID) (func(), error) {
	shard := l.shards[shardFor(tenantID)]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardFor(tenantID id.TenantID) int {
	h := fnv.New32a()
	u := uuid.UUID(tenantID)
	h.Write(u[:])
	return int(h.Sum32() % shardCount)
}
