package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"controlplane/internal/resolution"
	"controlplane/internal/tailoring"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
)

const decisionColumns = `
	id, tenant_id, entry_id, decision_type, justification,
	compensating_control, modified_aspects, approver, content_hash, decided_at
`

// Postgres persists tailoring decisions and their effective entries.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed tailoring store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Apply writes the decision, supersedes the baseline and inserts the
// effective entry in one transaction. The unique (entry_id, content_hash)
// index turns a concurrent identical decision into CodeConflict.
func (s *Postgres) Apply(ctx context.Context, decision tailoring.Decision, effective resolution.ControlSetEntry) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tailoring tx: %w", err)
	}
	defer dbTx.Rollback()

	result, err := dbTx.ExecContext(ctx, `
		UPDATE control_set_entries
		SET status = $1, superseded_by = $2
		WHERE tenant_id = $3 AND id = $4 AND status = $5
	`, string(resolution.EntrySuperseded), uuid.UUID(effective.ID),
		uuid.UUID(decision.TenantID), uuid.UUID(decision.EntryID),
		string(resolution.EntryActive))
	if err != nil {
		return fmt.Errorf("supersede entry: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("supersede entry: %w", err)
	} else if affected == 0 {
		return dErrors.New(dErrors.CodeConflict, "entry is missing or already superseded")
	}

	if err := insertEntry(ctx, dbTx, effective); err != nil {
		return err
	}

	aspects, err := json.Marshal(decision.ModifiedAspects)
	if err != nil {
		return fmt.Errorf("encode modified aspects: %w", err)
	}
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO tailoring_decisions (`+decisionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.UUID(decision.ID), uuid.UUID(decision.TenantID),
		uuid.UUID(decision.EntryID), string(decision.Type),
		decision.Justification, decision.CompensatingControl, aspects,
		decision.Approver, decision.Hash, decision.DecidedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return dErrors.New(dErrors.CodeConflict, "decision already applied")
		}
		return fmt.Errorf("insert decision: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit tailoring tx: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, dbTx *sql.Tx, entry resolution.ControlSetEntry) error {
	aspects, err := json.Marshal(entry.Aspects)
	if err != nil {
		return fmt.Errorf("encode entry aspects: %w", err)
	}
	var decisionID *uuid.UUID
	if !entry.DecisionID.IsNil() {
		u := uuid.UUID(entry.DecisionID)
		decisionID = &u
	}
	var baselineID *uuid.UUID
	if !entry.BaselineID.IsNil() {
		u := uuid.UUID(entry.BaselineID)
		baselineID = &u
	}
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO control_set_entries (
			id, tenant_id, run_id, control_id, control_code, framework_code,
			mandatory, evidence_cadence, aspects, source, source_code,
			status, baseline_id, decision_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, uuid.UUID(entry.ID), uuid.UUID(entry.TenantID), uuid.UUID(entry.RunID),
		uuid.UUID(entry.ControlID), entry.ControlCode, entry.FrameworkCode,
		entry.Mandatory, entry.EvidenceCadence, aspects, string(entry.Source),
		entry.SourceCode, string(entry.Status), baselineID, decisionID,
		entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *Postgres) ByHash(ctx context.Context, tenantID id.TenantID, entryID id.EntryID, hash string) (tailoring.Decision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM tailoring_decisions
		WHERE tenant_id = $1 AND entry_id = $2 AND content_hash = $3
	`
	d, err := scanDecision(s.db.QueryRowContext(ctx, query,
		uuid.UUID(tenantID), uuid.UUID(entryID), hash))
	if errors.Is(err, sql.ErrNoRows) {
		return tailoring.Decision{}, dErrors.New(dErrors.CodeNotFound, "decision not found")
	}
	return d, err
}

func (s *Postgres) Entry(ctx context.Context, tenantID id.TenantID, entryID id.EntryID) (resolution.ControlSetEntry, error) {
	query := `
		SELECT id, tenant_id, run_id, control_id, control_code, framework_code,
		       mandatory, evidence_cadence, aspects, source, source_code,
		       status, superseded_by, baseline_id, decision_id, created_at
		FROM control_set_entries
		WHERE tenant_id = $1 AND id = $2
	`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(entryID)))
	if errors.Is(err, sql.ErrNoRows) {
		return resolution.ControlSetEntry{}, dErrors.New(dErrors.CodeNotFound, "entry not found")
	}
	return entry, err
}

func (s *Postgres) EffectiveEntry(ctx context.Context, tenantID id.TenantID, decisionID id.DecisionID) (resolution.ControlSetEntry, error) {
	query := `
		SELECT id, tenant_id, run_id, control_id, control_code, framework_code,
		       mandatory, evidence_cadence, aspects, source, source_code,
		       status, superseded_by, baseline_id, decision_id, created_at
		FROM control_set_entries
		WHERE tenant_id = $1 AND decision_id = $2
	`
	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(decisionID)))
	if errors.Is(err, sql.ErrNoRows) {
		return resolution.ControlSetEntry{}, dErrors.New(dErrors.CodeNotFound, "no effective entry for decision")
	}
	return entry, err
}

func (s *Postgres) Decisions(ctx context.Context, tenantID id.TenantID, entryID id.EntryID) ([]tailoring.Decision, error) {
	query := `
		SELECT ` + decisionColumns + `
		FROM tailoring_decisions
		WHERE tenant_id = $1 AND entry_id = $2
		ORDER BY decided_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(entryID))
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []tailoring.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (tailoring.Decision, error) {
	var (
		d                                   tailoring.Decision
		decisionUUID, tenantUUID, entryUUID uuid.UUID
		aspectsRaw                          []byte
	)
	err := row.Scan(&decisionUUID, &tenantUUID, &entryUUID, &d.Type,
		&d.Justification, &d.CompensatingControl, &aspectsRaw, &d.Approver,
		&d.Hash, &d.DecidedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tailoring.Decision{}, err
		}
		return tailoring.Decision{}, fmt.Errorf("scan decision: %w", err)
	}
	d.ID = id.DecisionID(decisionUUID)
	d.TenantID = id.TenantID(tenantUUID)
	d.EntryID = id.EntryID(entryUUID)
	if len(aspectsRaw) > 0 {
		if err := json.Unmarshal(aspectsRaw, &d.ModifiedAspects); err != nil {
			return tailoring.Decision{}, fmt.Errorf("decode modified aspects: %w", err)
		}
	}
	return d, nil
}

func scanEntry(row rowScanner) (resolution.ControlSetEntry, error) {
	var (
		entry                            resolution.ControlSetEntry
		entryUUID, tenantUUID, runUUID   uuid.UUID
		controlUUID                      uuid.UUID
		aspectsRaw                       []byte
		supersededBy, baseline, decision *uuid.UUID
	)
	err := row.Scan(&entryUUID, &tenantUUID, &runUUID, &controlUUID,
		&entry.ControlCode, &entry.FrameworkCode, &entry.Mandatory,
		&entry.EvidenceCadence, &aspectsRaw, &entry.Source, &entry.SourceCode,
		&entry.Status, &supersededBy, &baseline, &decision, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resolution.ControlSetEntry{}, err
		}
		return resolution.ControlSetEntry{}, fmt.Errorf("scan entry: %w", err)
	}
	entry.ID = id.EntryID(entryUUID)
	entry.TenantID = id.TenantID(tenantUUID)
	entry.RunID = id.RunID(runUUID)
	entry.ControlID = id.ControlID(controlUUID)
	if len(aspectsRaw) > 0 {
		if err := json.Unmarshal(aspectsRaw, &entry.Aspects); err != nil {
			return resolution.ControlSetEntry{}, fmt.Errorf("decode entry aspects: %w", err)
		}
	}
	if supersededBy != nil {
		entry.SupersededBy = id.EntryID(*supersededBy)
	}
	if baseline != nil {
		entry.BaselineID = id.EntryID(*baseline)
	}
	if decision != nil {
		entry.DecisionID = id.DecisionID(*decision)
	}
	return entry, nil
}
