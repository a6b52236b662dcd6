package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"controlplane/internal/catalog"
	"controlplane/internal/inheritance"
	"controlplane/internal/overlay"
	"controlplane/internal/rules"
	id "controlplane/pkg/domain"
)

// Postgres persists the catalog. The catalog is read-mostly: Load pulls the
// whole slice in one pass since typical catalogs are a few hundred controls.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed catalog store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Load(ctx context.Context) (catalog.Snapshot, error) {
	var snapshot catalog.Snapshot
	var err error

	if snapshot.Controls, err = s.loadControls(ctx); err != nil {
		return catalog.Snapshot{}, err
	}
	if snapshot.Frameworks, err = s.loadFrameworks(ctx); err != nil {
		return catalog.Snapshot{}, err
	}
	if snapshot.Edges, err = s.loadEdges(ctx); err != nil {
		return catalog.Snapshot{}, err
	}
	if snapshot.Mappings, err = s.loadMappings(ctx); err != nil {
		return catalog.Snapshot{}, err
	}
	if snapshot.RuleSet, err = s.loadRuleSet(ctx); err != nil {
		return catalog.Snapshot{}, err
	}
	if snapshot.Overlays, err = s.loadOverlays(ctx); err != nil {
		return catalog.Snapshot{}, err
	}
	return snapshot, nil
}

func (s *Postgres) loadControls(ctx context.Context) ([]catalog.Control, error) {
	query := `
		SELECT id, code, name, name_ar, domain, framework_code, status,
		       priority, evidence_cadence, aspects, effective_date, version
		FROM controls
		ORDER BY priority, code
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query controls: %w", err)
	}
	defer rows.Close()

	var controls []catalog.Control
	for rows.Next() {
		var (
			c          catalog.Control
			controlID  uuid.UUID
			aspectsRaw []byte
		)
		err := rows.Scan(&controlID, &c.Code, &c.Name, &c.NameAr, &c.Domain,
			&c.FrameworkCode, &c.Status, &c.Priority, &c.EvidenceCadence,
			&aspectsRaw, &c.EffectiveDate, &c.Version)
		if err != nil {
			return nil, fmt.Errorf("scan control: %w", err)
		}
		c.ID = id.ControlID(controlID)
		if len(aspectsRaw) > 0 {
			if err := json.Unmarshal(aspectsRaw, &c.Aspects); err != nil {
				return nil, fmt.Errorf("decode control aspects: %w", err)
			}
		}
		controls = append(controls, c)
	}
	return controls, rows.Err()
}

func (s *Postgres) loadFrameworks(ctx context.Context) ([]catalog.Framework, error) {
	query := `
		SELECT id, code, name, name_ar, version, issuing_body, country_code,
		       mandatory, applicable_sectors, priority, active
		FROM frameworks
		ORDER BY priority, code
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query frameworks: %w", err)
	}
	defer rows.Close()

	var frameworks []catalog.Framework
	for rows.Next() {
		var (
			f           catalog.Framework
			frameworkID uuid.UUID
		)
		err := rows.Scan(&frameworkID, &f.Code, &f.Name, &f.NameAr, &f.Version,
			&f.IssuingBody, &f.CountryCode, &f.Mandatory,
			pq.Array(&f.ApplicableSectors), &f.Priority, &f.Active)
		if err != nil {
			return nil, fmt.Errorf("scan framework: %w", err)
		}
		f.ID = id.FrameworkID(frameworkID)
		frameworks = append(frameworks, f)
	}
	return frameworks, rows.Err()
}

func (s *Postgres) loadEdges(ctx context.Context) ([]inheritance.Edge, error) {
	query := `
		SELECT parent_control_id, child_control_id, inheritance_type,
		       percentage, aspects, effective_date, expiry_date
		FROM control_inheritance
		ORDER BY child_control_id, parent_control_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query inheritance edges: %w", err)
	}
	defer rows.Close()

	var edges []inheritance.Edge
	for rows.Next() {
		var (
			e             inheritance.Edge
			parent, child uuid.UUID
		)
		err := rows.Scan(&parent, &child, &e.Type, &e.Percentage,
			pq.Array(&e.Aspects), &e.EffectiveDate, &e.ExpiryDate)
		if err != nil {
			return nil, fmt.Errorf("scan inheritance edge: %w", err)
		}
		e.Parent = id.ControlID(parent)
		e.Child = id.ControlID(child)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (s *Postgres) loadMappings(ctx context.Context) ([]catalog.ControlMapping, error) {
	query := `
		SELECT source_control_id, target_control_id, source_framework,
		       target_framework, strength, confidence, verified, verified_by
		FROM control_mappings
		ORDER BY source_control_id, target_control_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query control mappings: %w", err)
	}
	defer rows.Close()

	var mappings []catalog.ControlMapping
	for rows.Next() {
		var (
			m              catalog.ControlMapping
			source, target uuid.UUID
		)
		err := rows.Scan(&source, &target, &m.SourceFramework, &m.TargetFramework,
			&m.Strength, &m.Confidence, &m.Verified, &m.VerifiedBy)
		if err != nil {
			return nil, fmt.Errorf("scan control mapping: %w", err)
		}
		m.SourceControl = id.ControlID(source)
		m.TargetControl = id.ControlID(target)
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (s *Postgres) loadRuleSet(ctx context.Context) (rules.RuleSet, error) {
	query := `
		SELECT id, code, name, version, condition, target_kind, target_code,
		       priority, active, reason, reason_ar
		FROM applicability_rules
		ORDER BY priority, code
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return rules.RuleSet{}, fmt.Errorf("query applicability rules: %w", err)
	}
	defer rows.Close()

	set := rules.RuleSet{Code: "catalog", Version: "1"}
	for rows.Next() {
		var (
			r            rules.Rule
			ruleID       uuid.UUID
			conditionRaw []byte
		)
		err := rows.Scan(&ruleID, &r.Code, &r.Name, &r.Version, &conditionRaw,
			&r.TargetKind, &r.TargetCode, &r.Priority, &r.Active, &r.Reason, &r.ReasonAr)
		if err != nil {
			return rules.RuleSet{}, fmt.Errorf("scan applicability rule: %w", err)
		}
		r.ID = id.RuleID(ruleID)
		if err := json.Unmarshal(conditionRaw, &r.Condition); err != nil {
			return rules.RuleSet{}, fmt.Errorf("decode rule condition: %w", err)
		}
		set.Rules = append(set.Rules, r)
	}
	return set, rows.Err()
}

func (s *Postgres) loadOverlays(ctx context.Context) ([]overlay.Overlay, error) {
	query := `
		SELECT id, code, name, overlay_type, trigger_condition, priority,
		       active, deltas, reason, reason_ar
		FROM control_overlays
		ORDER BY priority, code
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query overlays: %w", err)
	}
	defer rows.Close()

	var overlays []overlay.Overlay
	for rows.Next() {
		var (
			o          overlay.Overlay
			overlayID  uuid.UUID
			triggerRaw []byte
			deltasRaw  []byte
		)
		err := rows.Scan(&overlayID, &o.Code, &o.Name, &o.Type, &triggerRaw,
			&o.Priority, &o.Active, &deltasRaw, &o.Reason, &o.ReasonAr)
		if err != nil {
			return nil, fmt.Errorf("scan overlay: %w", err)
		}
		o.ID = id.OverlayID(overlayID)
		if err := json.Unmarshal(triggerRaw, &o.Trigger); err != nil {
			return nil, fmt.Errorf("decode overlay trigger: %w", err)
		}
		if len(deltasRaw) > 0 {
			if err := json.Unmarshal(deltasRaw, &o.Deltas); err != nil {
				return nil, fmt.Errorf("decode overlay deltas: %w", err)
			}
		}
		overlays = append(overlays, o)
	}
	return overlays, rows.Err()
}

func (s *Postgres) SaveControl(ctx context.Context, c catalog.Control) error {
	aspects, err := json.Marshal(c.Aspects)
	if err != nil {
		return fmt.Errorf("encode control aspects: %w", err)
	}
	query := `
		INSERT INTO controls (
			id, code, name, name_ar, domain, framework_code, status,
			priority, evidence_cadence, aspects, effective_date, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(c.ID), c.Code, c.Name, c.NameAr, c.Domain, c.FrameworkCode,
		c.Status, c.Priority, c.EvidenceCadence, aspects, c.EffectiveDate, c.Version)
	if err != nil {
		return fmt.Errorf("insert control: %w", err)
	}
	return nil
}

func (s *Postgres) SaveEdge(ctx context.Context, e inheritance.Edge) error {
	query := `
		INSERT INTO control_inheritance (
			parent_control_id, child_control_id, inheritance_type,
			percentage, aspects, effective_date, expiry_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(e.Parent), uuid.UUID(e.Child), string(e.Type),
		e.Percentage, pq.Array(e.Aspects), e.EffectiveDate, e.ExpiryDate)
	if err != nil {
		return fmt.Errorf("insert inheritance edge: %w", err)
	}
	return nil
}

func (s *Postgres) SaveRule(ctx context.Context, r rules.Rule) error {
	condition, err := json.Marshal(r.Condition)
	if err != nil {
		return fmt.Errorf("encode rule condition: %w", err)
	}
	query := `
		INSERT INTO applicability_rules (
			id, code, name, version, condition, target_kind, target_code,
			priority, active, reason, reason_ar
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(r.ID), r.Code, r.Name, r.Version, condition,
		string(r.TargetKind), r.TargetCode, r.Priority, r.Active, r.Reason, r.ReasonAr)
	if err != nil {
		return fmt.Errorf("insert applicability rule: %w", err)
	}
	return nil
}

func (s *Postgres) SaveMapping(ctx context.Context, m catalog.ControlMapping) error {
	query := `
		INSERT INTO control_mappings (
			source_control_id, target_control_id, source_framework,
			target_framework, strength, confidence, verified, verified_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(m.SourceControl), uuid.UUID(m.TargetControl),
		m.SourceFramework, m.TargetFramework, string(m.Strength),
		m.Confidence, m.Verified, m.VerifiedBy)
	if err != nil {
		return fmt.Errorf("insert control mapping: %w", err)
	}
	return nil
}
