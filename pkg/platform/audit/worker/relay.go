// Package worker ships audit events from the Postgres outbox to Kafka.
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "controlplane/pkg/platform/audit"
)

// Topic per category. Category routing lets compliance events get stricter
// retention than operations chatter.
const (
	TopicCompliance = "audit.compliance"
	TopicSecurity   = "audit.security"
	TopicOperations = "audit.operations"
)

func topicFor(category audit.EventCategory) string {
	switch category {
	case audit.CategoryCompliance:
		return TopicCompliance
	case audit.CategorySecurity:
		return TopicSecurity
	default:
		return TopicOperations
	}
}

// Relay polls the outbox table and publishes unshipped entries to Kafka.
// At-least-once: an entry is marked published only after the produce is
// acknowledged, so a crash between produce and mark replays the entry.
// Consumers deduplicate on the event ID.
type Relay struct {
	db        *sql.DB
	client    *kgo.Client
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewRelay constructs an outbox relay.
func NewRelay(db *sql.DB, client *kgo.Client, logger *slog.Logger, interval time.Duration, batchSize int) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{db: db, client: client, logger: logger, interval: interval, batchSize: batchSize}
}

// EnsureTopics creates the audit topics if the cluster does not have them.
func (r *Relay) EnsureTopics(ctx context.Context, partitions int32, replication int16) error {
	admin := kadm.NewClient(r.client)
	responses, err := admin.CreateTopics(ctx, partitions, replication, nil,
		TopicCompliance, TopicSecurity, TopicOperations)
	if err != nil {
		return fmt.Errorf("create audit topics: %w", err)
	}
	for _, resp := range responses.Sorted() {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// Run polls until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

type outboxEntry struct {
	id          uuid.UUID
	aggregateID string
	eventType   string
	payload     []byte
}

// drain ships one batch. SKIP LOCKED lets multiple relay replicas share the
// outbox without double-shipping within a polling cycle.
func (r *Relay) drain(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, r.batchSize)
	if err != nil {
		return fmt.Errorf("query outbox: %w", err)
	}

	var entries []outboxEntry
	for rows.Next() {
		var e outboxEntry
		if err := rows.Scan(&e.id, &e.aggregateID, &e.eventType, &e.payload); err != nil {
			rows.Close()
			return fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate outbox: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, &kgo.Record{
			Topic: topicFor(audit.AuditEvent(e.eventType).Category()),
			// Key by aggregate so one tenant's events stay ordered within
			// a partition.
			Key:   []byte(e.aggregateID),
			Value: e.payload,
		})
	}
	if err := r.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.id.String())
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE outbox SET published_at = NOW() WHERE id = ANY($1::uuid[])
	`, pq.Array(ids)); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox tx: %w", err)
	}
	r.logger.DebugContext(ctx, "audit batch shipped", "count", len(entries))
	return nil
}
