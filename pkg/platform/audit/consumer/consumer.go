// Package consumer materializes audit events from Kafka back into the
// queryable audit_events table. The outbox relay guarantees at-least-once
// delivery; materialization is idempotent on the event ID.
package consumer

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	id "controlplane/pkg/domain"
	audit "controlplane/pkg/platform/audit"
	"controlplane/pkg/platform/audit/worker"
)

// EventSink persists one delivered audit event.
type EventSink interface {
	AppendWithID(ctx context.Context, eventID uuid.UUID, event audit.Event) error
}

// wireEvent mirrors the outbox payload shape.
type wireEvent struct {
	ID        string `json:"ID"`
	Category  string `json:"Category"`
	Timestamp string `json:"Timestamp"`
	TenantID  string `json:"TenantID,omitempty"`
	Subject   string `json:"Subject"`
	Action    string `json:"Action"`
	Decision  string `json:"Decision,omitempty"`
	Reason    string `json:"Reason,omitempty"`
	RequestID string `json:"RequestID,omitempty"`
	Actor     string `json:"Actor,omitempty"`
}

// Consumer reads the audit topics and writes events to the sink.
type Consumer struct {
	client *kgo.Client
	sink   EventSink
	logger *slog.Logger
}

// New builds a consumer. The kgo client must be configured with the audit
// topics and a consumer group.
func New(client *kgo.Client, sink EventSink, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: client, sink: sink, logger: logger}
}

// Topics returns the audit topics the consumer subscribes to.
func Topics() []string {
	return []string{worker.TopicCompliance, worker.TopicSecurity, worker.TopicOperations}
}

// Run polls until the context is cancelled. A record that cannot be decoded
// is logged and skipped; a sink failure stops the poll so offsets are not
// committed past the failure.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fetchErr := range errs {
				c.logger.ErrorContext(ctx, "audit fetch failed",
					"topic", fetchErr.Topic,
					"error", fetchErr.Err,
				)
			}
		}

		var sinkErr error
		fetches.EachRecord(func(record *kgo.Record) {
			if sinkErr != nil {
				return
			}
			sinkErr = c.handle(ctx, record)
		})
		if sinkErr != nil {
			return sinkErr
		}
	}
}

func (c *Consumer) handle(ctx context.Context, record *kgo.Record) error {
	var wire wireEvent
	if err := json.Unmarshal(record.Value, &wire); err != nil {
		c.logger.WarnContext(ctx, "undecodable audit record skipped",
			"topic", record.Topic,
			"offset", record.Offset,
			"error", err,
		)
		return nil
	}
	eventID, err := uuid.Parse(wire.ID)
	if err != nil {
		c.logger.WarnContext(ctx, "audit record without event ID skipped",
			"topic", record.Topic,
			"offset", record.Offset,
		)
		return nil
	}

	event := audit.Event{
		Category:  audit.EventCategory(wire.Category),
		Subject:   wire.Subject,
		Action:    wire.Action,
		Decision:  wire.Decision,
		Reason:    wire.Reason,
		RequestID: wire.RequestID,
		Actor:     wire.Actor,
	}
	if ts, err := time.Parse(time.RFC3339Nano, wire.Timestamp); err == nil {
		event.Timestamp = ts
	}
	if wire.TenantID != "" {
		if tenantUUID, err := uuid.Parse(wire.TenantID); err == nil {
			event.TenantID = id.TenantID(tenantUUID)
		}
	}

	return c.sink.AppendWithID(ctx, eventID, event)
}
