package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"controlplane/internal/explain"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	"controlplane/pkg/platform/tx"
)

const payloadColumns = `
	id, tenant_id, run_id, decision_type, subject_code, subject_name,
	decision, reason, reason_ar, factors, reference_list, confidence,
	generated_at, override_by, override_decision, override_justification,
	override_at, supersedes_id
`

// Postgres persists explainability payloads. Rows are immutable apart from
// the override columns, which a conditional update fills exactly once.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed explain store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// execer lets Create run inside the orchestrator's materialization
// transaction when one is carried in the context.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Postgres) exec(ctx context.Context) execer {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return s.db
}

func (s *Postgres) Create(ctx context.Context, p explain.Payload) error {
	factors, err := json.Marshal(p.Factors)
	if err != nil {
		return fmt.Errorf("encode payload factors: %w", err)
	}

	var overrideBy, overrideDecision, overrideJustification sql.NullString
	var overrideAt sql.NullTime
	if p.Override != nil {
		overrideBy = sql.NullString{String: p.Override.By, Valid: true}
		overrideDecision = sql.NullString{String: p.Override.Decision, Valid: true}
		overrideJustification = sql.NullString{String: p.Override.Justification, Valid: true}
		overrideAt = sql.NullTime{Time: p.Override.At, Valid: true}
	}
	var supersedes *uuid.UUID
	if !p.SupersedesID.IsNil() {
		u := uuid.UUID(p.SupersedesID)
		supersedes = &u
	}

	query := `
		INSERT INTO explain_payloads (` + payloadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18)
	`
	_, err = s.exec(ctx).ExecContext(ctx, query,
		uuid.UUID(p.ID), uuid.UUID(p.TenantID), uuid.UUID(p.RunID),
		string(p.Type), p.SubjectCode, p.SubjectName, p.Decision, p.Reason,
		p.ReasonAr, factors, pq.Array(p.References), p.Confidence,
		p.GeneratedAt, overrideBy, overrideDecision, overrideJustification,
		overrideAt, supersedes)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return dErrors.New(dErrors.CodeConflict, "payload already exists")
		}
		return fmt.Errorf("insert payload: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, tenantID id.TenantID, payloadID id.PayloadID) (explain.Payload, error) {
	query := `
		SELECT ` + payloadColumns + `
		FROM explain_payloads
		WHERE tenant_id = $1 AND id = $2
	`
	p, err := scanPayload(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(payloadID)))
	if errors.Is(err, sql.ErrNoRows) {
		return explain.Payload{}, dErrors.New(dErrors.CodeNotFound, "payload not found")
	}
	return p, err
}

func (s *Postgres) SetOverride(ctx context.Context, tenantID id.TenantID, payloadID id.PayloadID, ov explain.Override) error {
	query := `
		UPDATE explain_payloads
		SET override_by = $3, override_decision = $4,
		    override_justification = $5, override_at = $6
		WHERE tenant_id = $1 AND id = $2 AND override_by IS NULL
	`
	result, err := s.db.ExecContext(ctx, query,
		uuid.UUID(tenantID), uuid.UUID(payloadID),
		ov.By, ov.Decision, ov.Justification, ov.At)
	if err != nil {
		return fmt.Errorf("set payload override: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set payload override: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// Distinguish an occupied slot from a missing payload.
	if _, err := s.Get(ctx, tenantID, payloadID); err != nil {
		return err
	}
	return dErrors.New(dErrors.CodeConflict, "override slot already occupied")
}

func (s *Postgres) ListByRun(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]explain.Payload, error) {
	query := `
		SELECT ` + payloadColumns + `
		FROM explain_payloads
		WHERE tenant_id = $1 AND run_id = $2
		ORDER BY generated_at, subject_code
	`
	return s.queryAll(ctx, query, uuid.UUID(tenantID), uuid.UUID(runID))
}

func (s *Postgres) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]explain.Payload, error) {
	query := `
		SELECT ` + payloadColumns + `
		FROM explain_payloads
		WHERE tenant_id = $1
		ORDER BY generated_at, subject_code
	`
	return s.queryAll(ctx, query, uuid.UUID(tenantID))
}

func (s *Postgres) queryAll(ctx context.Context, query string, args ...any) ([]explain.Payload, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query payloads: %w", err)
	}
	defer rows.Close()

	var payloads []explain.Payload
	for rows.Next() {
		p, err := scanPayload(rows)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}
	return payloads, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayload(row rowScanner) (explain.Payload, error) {
	var (
		p                                explain.Payload
		payloadUUID, tenantUUID, runUUID uuid.UUID
		factorsRaw                       []byte
		overrideBy, overrideDecision     sql.NullString
		overrideJustification            sql.NullString
		overrideAt                       sql.NullTime
		supersedes                       *uuid.UUID
	)
	err := row.Scan(&payloadUUID, &tenantUUID, &runUUID, &p.Type,
		&p.SubjectCode, &p.SubjectName, &p.Decision, &p.Reason, &p.ReasonAr,
		&factorsRaw, pq.Array(&p.References), &p.Confidence, &p.GeneratedAt,
		&overrideBy, &overrideDecision, &overrideJustification, &overrideAt,
		&supersedes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return explain.Payload{}, err
		}
		return explain.Payload{}, fmt.Errorf("scan payload: %w", err)
	}
	p.ID = id.PayloadID(payloadUUID)
	p.TenantID = id.TenantID(tenantUUID)
	p.RunID = id.RunID(runUUID)
	if len(factorsRaw) > 0 {
		if err := json.Unmarshal(factorsRaw, &p.Factors); err != nil {
			return explain.Payload{}, fmt.Errorf("decode payload factors: %w", err)
		}
	}
	if overrideBy.Valid {
		p.Override = &explain.Override{
			By:            overrideBy.String,
			Decision:      overrideDecision.String,
			Justification: overrideJustification.String,
			At:            overrideAt.Time,
		}
	}
	if supersedes != nil {
		p.SupersedesID = id.PayloadID(*supersedes)
	}
	return p, nil
}
