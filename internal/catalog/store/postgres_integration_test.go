//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"controlplane/internal/catalog"
	"controlplane/internal/catalog/store"
	"controlplane/internal/inheritance"
	"controlplane/internal/rules"
	id "controlplane/pkg/domain"
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
	err := s.postgres.TruncateTables(ctx,
		"control_inheritance", "control_mappings", "applicability_rules",
		"control_overlays", "controls", "frameworks")
	s.Require().NoError(err)
}

func makeControl(code string) catalog.Control {
	return catalog.Control{
		ID:              id.NewControlID(),
		Code:            code,
		Name:            "Control " + code,
		NameAr:          "ضابطة " + code,
		Domain:          "Cryptography",
		FrameworkCode:   "NCA-ECC",
		Status:          catalog.ControlActive,
		Priority:        1,
		EvidenceCadence: "annual",
		Aspects:         map[string]string{"encryption": "AES-256"},
		EffectiveDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Version:         1,
	}
}

func findControl(t *testing.T, snapshot catalog.Snapshot, code string) catalog.Control {
	t.Helper()
	for _, c := range snapshot.Controls {
		if c.Code == code {
			return c
		}
	}
	t.Fatalf("control %s not in snapshot", code)
	return catalog.Control{}
}

// TestControlsRoundTrip verifies SaveControl and Load agree field by field.
func (s *PostgresStoreSuite) TestControlsRoundTrip() {
	ctx := context.Background()
	c1 := makeControl("ECC-1-1")
	c2 := makeControl("ECC-2-1")
	s.Require().NoError(s.store.SaveControl(ctx, c1))
	s.Require().NoError(s.store.SaveControl(ctx, c2))

	snapshot, err := s.store.Load(ctx)
	s.Require().NoError(err)
	s.Require().Len(snapshot.Controls, 2)

	stored := findControl(s.T(), snapshot, "ECC-1-1")
	s.Equal(c1.ID, stored.ID)
	s.Equal(c1.Name, stored.Name)
	s.Equal(c1.NameAr, stored.NameAr)
	s.Equal(c1.Domain, stored.Domain)
	s.Equal(c1.FrameworkCode, stored.FrameworkCode)
	s.Equal(catalog.ControlActive, stored.Status)
	s.Equal(c1.Aspects, stored.Aspects)
	s.Equal(c1.EvidenceCadence, stored.EvidenceCadence)
	s.True(c1.EffectiveDate.Equal(stored.EffectiveDate))
}

// TestEdgesRoundTrip verifies inheritance edges survive storage, including
// the optional expiry bound.
func (s *PostgresStoreSuite) TestEdgesRoundTrip() {
	ctx := context.Background()
	parent := makeControl("ECC-1-1")
	child := makeControl("ECC-1-2")
	s.Require().NoError(s.store.SaveControl(ctx, parent))
	s.Require().NoError(s.store.SaveControl(ctx, child))

	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	edge := inheritance.Edge{
		Parent:        parent.ID,
		Child:         child.ID,
		Type:          inheritance.EdgePartial,
		Percentage:    60,
		Aspects:       []string{"encryption"},
		EffectiveDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ExpiryDate:    &expiry,
	}
	s.Require().NoError(s.store.SaveEdge(ctx, edge))

	snapshot, err := s.store.Load(ctx)
	s.Require().NoError(err)
	s.Require().Len(snapshot.Edges, 1)

	stored := snapshot.Edges[0]
	s.Equal(parent.ID, stored.Parent)
	s.Equal(child.ID, stored.Child)
	s.Equal(inheritance.EdgePartial, stored.Type)
	s.Equal(60, stored.Percentage)
	s.Equal([]string{"encryption"}, stored.Aspects)
	s.Require().NotNil(stored.ExpiryDate)
	s.True(expiry.Equal(*stored.ExpiryDate))
}

// TestRulesRoundTrip verifies the condition JSON and rule-set ordering.
func (s *PostgresStoreSuite) TestRulesRoundTrip() {
	ctx := context.Background()

	rule := rules.Rule{
		ID:   id.NewRuleID(),
		Code: "R-BANKING",
		Name: "Banking sector pulls SAMA-CSF",
		Condition: rules.Condition{
			Field:    "sector",
			Operator: rules.OpIn,
			Values:   []string{"banking", "insurance"},
		},
		TargetKind: rules.TargetFramework,
		TargetCode: "SAMA-CSF",
		Priority:   2,
		Active:     true,
		Reason:     "SAMA-CSF is mandatory for financial institutions",
	}
	later := rules.Rule{
		ID:         id.NewRuleID(),
		Code:       "R-PII",
		Name:       "PII pulls the privacy overlay",
		Condition:  rules.Condition{Field: "processesPII", Operator: rules.OpIsTrue},
		TargetKind: rules.TargetOverlay,
		TargetCode: "PII-Extra",
		Priority:   5,
		Active:     true,
	}
	s.Require().NoError(s.store.SaveRule(ctx, later))
	s.Require().NoError(s.store.SaveRule(ctx, rule))

	snapshot, err := s.store.Load(ctx)
	s.Require().NoError(err)
	s.Require().Len(snapshot.RuleSet.Rules, 2)
	s.Equal("R-BANKING", snapshot.RuleSet.Rules[0].Code, "rules load by priority")

	stored := snapshot.RuleSet.Rules[0]
	s.Equal(rules.OpIn, stored.Condition.Operator)
	s.Equal([]string{"banking", "insurance"}, stored.Condition.Values)
	s.Equal(rules.TargetFramework, stored.TargetKind)
	s.Equal("SAMA-CSF", stored.TargetCode)
	s.Equal(rule.Reason, stored.Reason)
}

// TestMappingsRoundTrip verifies cross-framework mapping storage.
func (s *PostgresStoreSuite) TestMappingsRoundTrip() {
	ctx := context.Background()
	source := makeControl("ECC-1-1")
	target := makeControl("CSF-3-2")
	s.Require().NoError(s.store.SaveControl(ctx, source))
	s.Require().NoError(s.store.SaveControl(ctx, target))

	mapping := catalog.ControlMapping{
		SourceControl:   source.ID,
		TargetControl:   target.ID,
		SourceFramework: "NCA-ECC",
		TargetFramework: "SAMA-CSF",
		Strength:        catalog.MappingEquivalent,
		Confidence:      95,
		Verified:        true,
		VerifiedBy:      "mapping-committee",
	}
	s.Require().NoError(s.store.SaveMapping(ctx, mapping))

	snapshot, err := s.store.Load(ctx)
	s.Require().NoError(err)
	s.Require().Len(snapshot.Mappings, 1)
	s.Equal(mapping, snapshot.Mappings[0])
}

// TestFrameworksAndOverlays loads rows seeded through SQL; frameworks and
// overlays are catalog master data maintained outside the write API.
func (s *PostgresStoreSuite) TestFrameworksAndOverlays() {
	ctx := context.Background()

	frameworkID := uuid.New()
	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO frameworks (id, code, name, version, issuing_body,
		                        country_code, mandatory, applicable_sectors,
		                        priority, active)
		VALUES ($1, 'SAMA-CSF', 'SAMA Cybersecurity Framework', '1.0', 'SAMA',
		        'SA', TRUE, '{banking,insurance}', 2, TRUE)
	`, frameworkID)
	s.Require().NoError(err)

	overlayID := uuid.New()
	_, err = s.postgres.DB.ExecContext(ctx, `
		INSERT INTO control_overlays (id, code, name, overlay_type,
		                              trigger_condition, priority, active,
		                              deltas, reason)
		VALUES ($1, 'PII-Extra', 'Personal data handling', 'DataType',
		        '{"field":"processesPII","operator":"isTrue"}', 10, TRUE,
		        '[{"ControlCode":"PII-9","Add":true,"Aspects":{"privacy":"required"}}]',
		        'tenant processes personal data')
	`, overlayID)
	s.Require().NoError(err)

	snapshot, err := s.store.Load(ctx)
	s.Require().NoError(err)

	s.Require().Len(snapshot.Frameworks, 1)
	framework := snapshot.Frameworks[0]
	s.Equal(id.FrameworkID(frameworkID), framework.ID)
	s.Equal("SAMA-CSF", framework.Code)
	s.True(framework.Mandatory)
	s.Equal([]string{"banking", "insurance"}, framework.ApplicableSectors)

	s.Require().Len(snapshot.Overlays, 1)
	ov := snapshot.Overlays[0]
	s.Equal("PII-Extra", ov.Code)
	s.Equal("processesPII", ov.Trigger.Field)
	s.Equal(rules.OpIsTrue, ov.Trigger.Operator)
	s.Require().Len(ov.Deltas, 1)
	s.Equal("PII-9", ov.Deltas[0].ControlCode)
	s.True(ov.Deltas[0].Add)
	s.Equal("required", ov.Deltas[0].Aspects["privacy"])
}
