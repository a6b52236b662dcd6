//go:build integration

package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	id "controlplane/pkg/domain"
	audit "controlplane/pkg/platform/audit"
	auditpg "controlplane/pkg/platform/audit/store/postgres"
	"controlplane/pkg/platform/audit/worker"
	"controlplane/pkg/testutil/containers"
)

type RelaySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	audit    *auditpg.Store
}

func TestRelaySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
	s.audit = auditpg.New(s.postgres.DB)
}

func (s *RelaySuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "outbox")
	s.Require().NoError(err)
}

func (s *RelaySuite) newRelay(producer *kgo.Client) *worker.Relay {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return worker.NewRelay(s.postgres.DB, producer, logger, 50*time.Millisecond, 100)
}

func (s *RelaySuite) unpublishedCount(ctx context.Context) int {
	var count int
	err := s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&count)
	s.Require().NoError(err)
	return count
}

// TestRelayShipsOutbox drives the full pipeline: outbox rows are produced
// to the category topic, keyed by tenant, and marked published.
func (s *RelaySuite) TestRelayShipsOutbox() {
	ctx := context.Background()
	tenantID := id.NewTenantID()

	producer := s.redpanda.NewClient(s.T())
	relay := s.newRelay(producer)
	s.Require().NoError(relay.EnsureTopics(ctx, 1, 1))

	now := time.Now().UTC().Truncate(time.Microsecond)
	actions := []audit.AuditEvent{
		audit.EventRunMaterialized, // compliance
		audit.EventTenantMismatch,  // security
		audit.EventRunStarted,      // operations
	}
	for _, action := range actions {
		s.Require().NoError(s.audit.Append(ctx, audit.Event{
			Timestamp: now,
			TenantID:  tenantID,
			Subject:   "run subject",
			Action:    string(action),
			Actor:     "analyst@example.sa",
		}))
	}
	s.Equal(3, s.unpublishedCount(ctx))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(runCtx)
	}()

	s.Eventually(func() bool {
		return s.unpublishedCount(ctx) == 0
	}, 10*time.Second, 100*time.Millisecond, "relay should mark all entries published")

	cancel()
	<-done

	consumer := s.redpanda.NewClient(s.T(),
		kgo.ConsumeTopics(worker.TopicCompliance, worker.TopicSecurity, worker.TopicOperations),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)

	byTopic := map[string]int{}
	deadline := time.Now().Add(15 * time.Second)
	for len(byTopic) < 3 && time.Now().Before(deadline) {
		pollCtx, pollCancel := context.WithTimeout(ctx, 2*time.Second)
		fetches := consumer.PollFetches(pollCtx)
		pollCancel()
		fetches.EachRecord(func(record *kgo.Record) {
			if string(record.Key) != tenantID.String() {
				return
			}
			byTopic[record.Topic]++

			var payload map[string]any
			s.Require().NoError(json.Unmarshal(record.Value, &payload))
			s.Equal(tenantID.String(), payload["TenantID"])
		})
	}

	s.Equal(1, byTopic[worker.TopicCompliance], "compliance action routes to the compliance topic")
	s.Equal(1, byTopic[worker.TopicSecurity], "security action routes to the security topic")
	s.Equal(1, byTopic[worker.TopicOperations], "operations action routes to the operations topic")
}

// TestRelayLeavesNothingBehindWhenIdle verifies an empty outbox cycles
// cleanly and already shipped rows are not shipped twice.
func (s *RelaySuite) TestRelayLeavesNothingBehindWhenIdle() {
	ctx := context.Background()

	producer := s.redpanda.NewClient(s.T())
	relay := s.newRelay(producer)
	s.Require().NoError(relay.EnsureTopics(ctx, 1, 1))

	s.Require().NoError(s.audit.Append(ctx, audit.Event{
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		TenantID:  id.NewTenantID(),
		Subject:   "run subject",
		Action:    string(audit.EventRunStarted),
	}))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(runCtx)
	}()

	s.Eventually(func() bool {
		return s.unpublishedCount(ctx) == 0
	}, 10*time.Second, 100*time.Millisecond)

	// Let a few more polling cycles pass over the drained outbox.
	time.Sleep(300 * time.Millisecond)
	cancel()
	<-done

	var published int
	err := s.postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published)
	s.Require().NoError(err)
	s.Equal(1, published)
}
