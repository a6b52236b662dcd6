package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"controlplane/internal/resolution"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	txcontext "controlplane/pkg/platform/tx"
)

const runColumns = `
	id, tenant_id, wizard_id, snapshot_version, state, failed,
	failure_reason, summary, started_at, finished_at
`

const entryColumns = `
	id, tenant_id, run_id, control_id, control_code, framework_code,
	mandatory, evidence_cadence, aspects, source, source_code,
	status, superseded_by, baseline_id, decision_id, created_at
`

// Postgres persists runs, control set entries and evaluation logs. Writes
// join the transaction carried in context, so InTx makes the whole
// materialization atomic.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed resolution store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Postgres) exec(ctx context.Context) execer {
	if t, ok := txcontext.From(ctx); ok {
		return t
	}
	return s.db
}

// InTx runs fn inside a single transaction. The transaction rides the
// context, so any store using the same pattern writes atomically with this
// one.
func (s *Postgres) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolution tx: %w", err)
	}
	defer dbTx.Rollback()

	if err := fn(txcontext.WithTx(ctx, dbTx)); err != nil {
		return err
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit resolution tx: %w", err)
	}
	return nil
}

func (s *Postgres) CreateRun(ctx context.Context, run resolution.Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	_, err = s.exec(ctx).ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.UUID(run.ID), uuid.UUID(run.TenantID), uuid.UUID(run.WizardID),
		run.SnapshotVersion, string(run.State), run.Failed, run.FailureReason,
		summary, run.StartedAt, run.FinishedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return dErrors.New(dErrors.CodeConflict, "run already exists")
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Postgres) SaveRun(ctx context.Context, run resolution.Run) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	result, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE runs
		SET snapshot_version = $1, state = $2, failed = $3,
		    failure_reason = $4, summary = $5, finished_at = $6
		WHERE tenant_id = $7 AND id = $8
	`, run.SnapshotVersion, string(run.State), run.Failed, run.FailureReason,
		summary, run.FinishedAt, uuid.UUID(run.TenantID), uuid.UUID(run.ID))
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("update run: %w", err)
	} else if affected == 0 {
		return dErrors.New(dErrors.CodeNotFound, "run not found")
	}
	return nil
}

func (s *Postgres) Run(ctx context.Context, tenantID id.TenantID, runID id.RunID) (resolution.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE tenant_id = $1 AND id = $2
	`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(runID)))
	if errors.Is(err, sql.ErrNoRows) {
		return resolution.Run{}, dErrors.New(dErrors.CodeNotFound, "run not found")
	}
	return run, err
}

func (s *Postgres) Runs(ctx context.Context, tenantID id.TenantID) ([]resolution.Run, error) {
	query := `
		SELECT ` + runColumns + `
		FROM runs
		WHERE tenant_id = $1
		ORDER BY started_at
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []resolution.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *Postgres) SaveEntries(ctx context.Context, entries []resolution.ControlSetEntry) error {
	ex := s.exec(ctx)
	for _, entry := range entries {
		aspects, err := json.Marshal(entry.Aspects)
		if err != nil {
			return fmt.Errorf("encode entry aspects: %w", err)
		}
		_, err = ex.ExecContext(ctx, `
			INSERT INTO control_set_entries (
				id, tenant_id, run_id, control_id, control_code, framework_code,
				mandatory, evidence_cadence, aspects, source, source_code,
				status, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, uuid.UUID(entry.ID), uuid.UUID(entry.TenantID), uuid.UUID(entry.RunID),
			uuid.UUID(entry.ControlID), entry.ControlCode, entry.FrameworkCode,
			entry.Mandatory, entry.EvidenceCadence, aspects, string(entry.Source),
			entry.SourceCode, string(entry.Status), entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", entry.ControlCode, err)
		}
	}
	return nil
}

func (s *Postgres) Entries(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]resolution.ControlSetEntry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM control_set_entries
		WHERE tenant_id = $1 AND run_id = $2
		ORDER BY control_code
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(runID))
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []resolution.ControlSetEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Postgres) SaveEvaluationLog(ctx context.Context, log resolution.EvaluationLog) error {
	outcomes, err := json.Marshal(log.Outcomes)
	if err != nil {
		return fmt.Errorf("encode outcomes: %w", err)
	}
	_, err = s.exec(ctx).ExecContext(ctx, `
		INSERT INTO evaluation_logs (
			run_id, tenant_id, snapshot_version, rule_set_code,
			rule_set_version, outcomes, duration_ms, evaluated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.UUID(log.RunID), uuid.UUID(log.TenantID), log.SnapshotVersion,
		log.RuleSetCode, log.RuleSetVersion, outcomes,
		log.Duration.Milliseconds(), log.EvaluatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return dErrors.New(dErrors.CodeConflict, "evaluation log already written")
		}
		return fmt.Errorf("insert evaluation log: %w", err)
	}
	return nil
}

func (s *Postgres) EvaluationLog(ctx context.Context, tenantID id.TenantID, runID id.RunID) (resolution.EvaluationLog, error) {
	query := `
		SELECT run_id, tenant_id, snapshot_version, rule_set_code,
		       rule_set_version, outcomes, duration_ms, evaluated_at
		FROM evaluation_logs
		WHERE tenant_id = $1 AND run_id = $2
	`
	log, err := scanEvaluationLog(s.db.QueryRowContext(ctx, query,
		uuid.UUID(tenantID), uuid.UUID(runID)))
	if errors.Is(err, sql.ErrNoRows) {
		return resolution.EvaluationLog{}, dErrors.New(dErrors.CodeNotFound, "evaluation log not found")
	}
	return log, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (resolution.Run, error) {
	var (
		run                             resolution.Run
		runUUID, tenantUUID, wizardUUID uuid.UUID
		summaryRaw                      []byte
		finishedAt                      sql.NullTime
		state                           string
	)
	err := row.Scan(&runUUID, &tenantUUID, &wizardUUID, &run.SnapshotVersion,
		&state, &run.Failed, &run.FailureReason, &summaryRaw,
		&run.StartedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resolution.Run{}, err
		}
		return resolution.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.ID = id.RunID(runUUID)
	run.TenantID = id.TenantID(tenantUUID)
	run.WizardID = id.WizardID(wizardUUID)
	run.State = resolution.RunState(state)
	if len(summaryRaw) > 0 {
		if err := json.Unmarshal(summaryRaw, &run.Summary); err != nil {
			return resolution.Run{}, fmt.Errorf("decode run summary: %w", err)
		}
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
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

func scanEvaluationLog(row rowScanner) (resolution.EvaluationLog, error) {
	var (
		log                 resolution.EvaluationLog
		runUUID, tenantUUID uuid.UUID
		outcomesRaw         []byte
		durationMs          int64
	)
	err := row.Scan(&runUUID, &tenantUUID, &log.SnapshotVersion,
		&log.RuleSetCode, &log.RuleSetVersion, &outcomesRaw, &durationMs,
		&log.EvaluatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return resolution.EvaluationLog{}, err
		}
		return resolution.EvaluationLog{}, fmt.Errorf("scan evaluation log: %w", err)
	}
	log.RunID = id.RunID(runUUID)
	log.TenantID = id.TenantID(tenantUUID)
	log.Duration = time.Duration(durationMs) * time.Millisecond
	if len(outcomesRaw) > 0 {
		if err := json.Unmarshal(outcomesRaw, &log.Outcomes); err != nil {
			return resolution.EvaluationLog{}, fmt.Errorf("decode outcomes: %w", err)
		}
	}
	return log, nil
}
