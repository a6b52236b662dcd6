//go:build integration

package consumer_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	id "controlplane/pkg/domain"
	audit "controlplane/pkg/platform/audit"
	"controlplane/pkg/platform/audit/consumer"
	"controlplane/pkg/platform/audit/worker"
	"controlplane/pkg/testutil/containers"
)

// recordingSink collects delivered events, deduplicating on event ID the
// way the Postgres sink does.
type recordingSink struct {
	mu     sync.Mutex
	events map[uuid.UUID]audit.Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{events: make(map[uuid.UUID]audit.Event)}
}

func (r *recordingSink) AppendWithID(_ context.Context, eventID uuid.UUID, event audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[eventID]; !ok {
		r.events[eventID] = event
	}
	return nil
}

func (r *recordingSink) get(eventID uuid.UUID) (audit.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, ok := r.events[eventID]
	return event, ok
}

type ConsumerSuite struct {
	suite.Suite
	redpanda *containers.RedpandaContainer
}

func TestConsumerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ConsumerSuite))
}

func (s *ConsumerSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redpanda = mgr.GetRedpanda(s.T())
}

// TestMaterializesEvents produces wire events and a garbage record and
// verifies the consumer materializes the decodable ones and skips the rest.
func (s *ConsumerSuite) TestMaterializesEvents() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	eventID := uuid.New()
	timestamp := time.Now().UTC().Truncate(time.Microsecond)

	producer := s.redpanda.NewClient(s.T())
	admin := kadm.NewClient(producer)
	_, err := admin.CreateTopics(ctx, 1, 1, nil, consumer.Topics()...)
	s.Require().NoError(err)

	wirePayload := `{
		"ID": "` + eventID.String() + `",
		"Category": "compliance",
		"Timestamp": "` + timestamp.Format(time.RFC3339Nano) + `",
		"TenantID": "` + tenantID.String() + `",
		"Subject": "run 42",
		"Action": "run_materialized",
		"Decision": "materialized",
		"RequestID": "req-1",
		"Actor": "analyst@example.sa"
	}`
	records := []*kgo.Record{
		{Topic: worker.TopicCompliance, Key: []byte(tenantID.String()), Value: []byte(wirePayload)},
		// At-least-once delivery replays records; the sink dedupes on ID.
		{Topic: worker.TopicCompliance, Key: []byte(tenantID.String()), Value: []byte(wirePayload)},
		// Garbage must be skipped without stalling the partition.
		{Topic: worker.TopicCompliance, Key: []byte(tenantID.String()), Value: []byte("not json")},
	}
	s.Require().NoError(producer.ProduceSync(ctx, records...).FirstErr())

	client := s.redpanda.NewClient(s.T(),
		kgo.ConsumeTopics(consumer.Topics()...),
		kgo.ConsumerGroup("audit-consumer-test-"+uuid.NewString()),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	sink := newRecordingSink()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := consumer.New(client, sink, logger)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(runCtx)
	}()

	var event audit.Event
	s.Eventually(func() bool {
		var ok bool
		event, ok = sink.get(eventID)
		return ok
	}, 30*time.Second, 100*time.Millisecond, "consumer should materialize the event")

	cancel()
	<-done

	s.Equal(audit.CategoryCompliance, event.Category)
	s.Equal(tenantID, event.TenantID)
	s.Equal("run 42", event.Subject)
	s.Equal(string(audit.EventRunMaterialized), event.Action)
	s.Equal("materialized", event.Decision)
	s.Equal("req-1", event.RequestID)
	s.Equal("analyst@example.sa", event.Actor)
	s.WithinDuration(timestamp, event.Timestamp, time.Millisecond)
}
