package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"controlplane/internal/snapshot"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
)

const snapshotColumns = `
	id, tenant_id, wizard_id, version, completed_step, answers,
	content_hash, final, created_by, created_at
`

// Postgres persists answer snapshots. Append-only: rows are only ever
// inserted, and the unique (wizard_id, version) index arbitrates concurrent
// appends.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed snapshot store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, snap snapshot.AnswerSnapshot) error {
	query := `
		INSERT INTO answer_snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(snap.ID), uuid.UUID(snap.TenantID), uuid.UUID(snap.WizardID),
		snap.Version, snap.CompletedStep, []byte(snap.Answers),
		snap.ContentHash, snap.Final, snap.CreatedBy, snap.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return dErrors.Newf(dErrors.CodeConflict, "snapshot version %d already exists", snap.Version)
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (s *Postgres) Latest(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) (snapshot.AnswerSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM answer_snapshots
		WHERE tenant_id = $1 AND wizard_id = $2
		ORDER BY version DESC
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(wizardID)))
}

func (s *Postgres) ByVersion(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID, version int) (snapshot.AnswerSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM answer_snapshots
		WHERE tenant_id = $1 AND wizard_id = $2 AND version = $3
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(wizardID), version))
}

func (s *Postgres) History(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) ([]snapshot.AnswerSnapshot, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM answer_snapshots
		WHERE tenant_id = $1 AND wizard_id = $2
		ORDER BY version
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID), uuid.UUID(wizardID))
	if err != nil {
		return nil, fmt.Errorf("query snapshot history: %w", err)
	}
	defer rows.Close()

	var history []snapshot.AnswerSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, snap)
	}
	return history, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Postgres) scanOne(row *sql.Row) (snapshot.AnswerSnapshot, error) {
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot.AnswerSnapshot{}, dErrors.New(dErrors.CodeNotFound, "snapshot not found")
	}
	return snap, err
}

func scanSnapshot(row rowScanner) (snapshot.AnswerSnapshot, error) {
	var (
		snap                           snapshot.AnswerSnapshot
		snapID, tenantUUID, wizardUUID uuid.UUID
		answers                        []byte
	)
	err := row.Scan(&snapID, &tenantUUID, &wizardUUID, &snap.Version,
		&snap.CompletedStep, &answers, &snap.ContentHash, &snap.Final,
		&snap.CreatedBy, &snap.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return snapshot.AnswerSnapshot{}, err
		}
		return snapshot.AnswerSnapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	snap.ID = id.SnapshotID(snapID)
	snap.TenantID = id.TenantID(tenantUUID)
	snap.WizardID = id.WizardID(wizardUUID)
	snap.Answers = answers
	return snap, nil
}
