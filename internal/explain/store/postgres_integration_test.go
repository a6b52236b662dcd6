//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"controlplane/internal/explain"
	"controlplane/internal/explain/store"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	"controlplane/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "explain_payloads")
	s.Require().NoError(err)
}

func makePayload(tenantID id.TenantID, runID id.RunID, subject string, at time.Time) explain.Payload {
	return explain.Payload{
		ID:          id.NewPayloadID(),
		TenantID:    tenantID,
		RunID:       runID,
		Type:        explain.DecisionFrameworkSelection,
		SubjectCode: subject,
		SubjectName: "Essential Cybersecurity Controls",
		Decision:    "selected",
		Reason:      "mandatory for sector banking in SA",
		Factors:     map[string]string{"sector": "banking", "country": "SA"},
		References:  []string{"NCA-ECC v2.0"},
		Confidence:  100,
		GeneratedAt: at.UTC().Truncate(time.Microsecond),
	}
}

// TestCreateAndGet verifies the full payload round trip.
func (s *PostgresStoreSuite) TestCreateAndGet() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	runID := id.NewRunID()

	p := makePayload(tenantID, runID, "NCA-ECC", time.Now())
	s.Require().NoError(s.store.Create(ctx, p))

	stored, err := s.store.Get(ctx, tenantID, p.ID)
	s.Require().NoError(err)
	s.Equal(p.Type, stored.Type)
	s.Equal(p.SubjectCode, stored.SubjectCode)
	s.Equal(p.SubjectName, stored.SubjectName)
	s.Equal(p.Decision, stored.Decision)
	s.Equal(p.Reason, stored.Reason)
	s.Equal(p.Factors, stored.Factors)
	s.Equal(p.References, stored.References)
	s.Equal(p.Confidence, stored.Confidence)
	s.WithinDuration(p.GeneratedAt, stored.GeneratedAt, time.Millisecond)
	s.Nil(stored.Override)
	s.True(stored.SupersedesID.IsNil())

	// Duplicate IDs are rejected.
	err = s.store.Create(ctx, p)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

// TestConcurrentOverride verifies the conditional update fills the
// override slot exactly once even under concurrent officers.
func (s *PostgresStoreSuite) TestConcurrentOverride() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	p := makePayload(tenantID, id.NewRunID(), "NCA-ECC", time.Now())
	s.Require().NoError(s.store.Create(ctx, p))

	const goroutines = 20
	var wg sync.WaitGroup
	var successCount atomic.Int32
	var conflictCount atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := s.store.SetOverride(ctx, tenantID, p.ID, explain.Override{
				By:            "officer@example.sa",
				Decision:      "deselected",
				Justification: "framework handled by parent entity",
				At:            time.Now().UTC().Truncate(time.Microsecond),
			})
			if err == nil {
				successCount.Add(1)
			} else if dErrors.HasCode(err, dErrors.CodeConflict) {
				conflictCount.Add(1)
			}
		}()
	}

	wg.Wait()

	s.Equal(int32(1), successCount.Load(), "exactly one override should land")
	s.Equal(int32(goroutines-1), conflictCount.Load(), "all others should see an occupied slot")

	stored, err := s.store.Get(ctx, tenantID, p.ID)
	s.Require().NoError(err)
	s.Require().NotNil(stored.Override)
	s.Equal("officer@example.sa", stored.Override.By)
	s.Equal("deselected", stored.Override.Decision)
}

// TestOverrideUnknownPayload distinguishes a missing payload from an
// occupied slot.
func (s *PostgresStoreSuite) TestOverrideUnknownPayload() {
	ctx := context.Background()
	err := s.store.SetOverride(ctx, id.NewTenantID(), id.NewPayloadID(), explain.Override{
		By:            "officer@example.sa",
		Decision:      "deselected",
		Justification: "n/a",
		At:            time.Now(),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// TestLists verifies run and tenant listings and their ordering.
func (s *PostgresStoreSuite) TestLists() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	runA := id.NewRunID()
	runB := id.NewRunID()
	base := time.Now()

	// Same timestamp orders by subject code; later timestamps come last.
	s.Require().NoError(s.store.Create(ctx, makePayload(tenantID, runA, "SAMA-CSF", base)))
	s.Require().NoError(s.store.Create(ctx, makePayload(tenantID, runA, "NCA-ECC", base)))
	s.Require().NoError(s.store.Create(ctx, makePayload(tenantID, runA, "AAA-LATE", base.Add(time.Second))))
	s.Require().NoError(s.store.Create(ctx, makePayload(tenantID, runB, "NCA-ECC", base)))
	s.Require().NoError(s.store.Create(ctx, makePayload(id.NewTenantID(), runA, "NCA-ECC", base)))

	byRun, err := s.store.ListByRun(ctx, tenantID, runA)
	s.Require().NoError(err)
	s.Require().Len(byRun, 3)
	s.Equal("NCA-ECC", byRun[0].SubjectCode)
	s.Equal("SAMA-CSF", byRun[1].SubjectCode)
	s.Equal("AAA-LATE", byRun[2].SubjectCode)

	byTenant, err := s.store.ListByTenant(ctx, tenantID)
	s.Require().NoError(err)
	s.Len(byTenant, 4)
}

// TestSupersedesChain verifies a follow-up payload keeps its link to the
// overridden payload.
func (s *PostgresStoreSuite) TestSupersedesChain() {
	ctx := context.Background()
	tenantID := id.NewTenantID()
	runID := id.NewRunID()

	original := makePayload(tenantID, runID, "NCA-ECC", time.Now())
	s.Require().NoError(s.store.Create(ctx, original))

	followUp := makePayload(tenantID, runID, "NCA-ECC", time.Now().Add(time.Second))
	followUp.SupersedesID = original.ID
	followUp.Override = &explain.Override{
		By:            "officer@example.sa",
		Decision:      "deselected",
		Justification: "second reversal",
		At:            time.Now().UTC().Truncate(time.Microsecond),
	}
	s.Require().NoError(s.store.Create(ctx, followUp))

	stored, err := s.store.Get(ctx, tenantID, followUp.ID)
	s.Require().NoError(err)
	s.Equal(original.ID, stored.SupersedesID)
	s.Require().NotNil(stored.Override)
	s.Equal("second reversal", stored.Override.Justification)
}
