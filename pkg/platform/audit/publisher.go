package audit

import (
	"context"
	"log/slog"

	id "controlplane/pkg/domain"
)

// Store persists audit events. The Postgres implementation writes to the
// outbox table; the relay ships outbox rows to Kafka.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Publisher is the emission surface engine services depend on. Compliance
// events fail closed: a store error propagates to the caller so the action
// that could not be audited does not silently succeed. Operations and
// security events fail open with a log line.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

// NewPublisher constructs a Publisher over a store.
func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{store: store, logger: logger}
}

// Publish records one audit event. The category is always derived from the
// action so callers cannot misfile an event.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	event.Category = AuditEvent(event.Action).Category()

	err := p.store.Append(ctx, event)
	if err == nil {
		return nil
	}
	if event.Category == CategoryCompliance {
		return err
	}
	p.logger.WarnContext(ctx, "audit event dropped",
		"action", event.Action,
		"subject", event.Subject,
		"error", err,
	)
	return nil
}
