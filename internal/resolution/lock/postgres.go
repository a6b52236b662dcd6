package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"

	id "controlplane/pkg/domain"
)

// Postgres serializes runs across replicas with session-scoped advisory
// locks. The lock key is a 64-bit hash of the tenant UUID; a hash collision
// between tenants over-serializes but never under-serializes.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed locker.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Acquire takes the tenant's advisory lock on a dedicated connection. The
// returned release unlocks and returns the connection to the pool. Blocks
// until the lock is granted or the context ends.
func (l *Postgres) Acquire(ctx context.Context, tenantID id.TenantID) (func(), error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	key := lockKey(tenantID)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		conn.Close()
		return nil, fmt.Errorf("acquire tenant lock: %w", err)
	}

	release := func() {
		// Unlock must not be skipped on caller cancellation; the session
		// would otherwise hold the lock until the connection dies.
		conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key)
		conn.Close()
	}
	return release, nil
}

func lockKey(tenantID id.TenantID) int64 {
	h := fnv.New64a()
	u := uuid.UUID(tenantID)
	h.Write(u[:])
	return int64(h.Sum64())
}
