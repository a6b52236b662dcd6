package snapshot

import (
	"context"
	"encoding/json"
	"log/slog"

	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	"controlplane/pkg/requestcontext"
)

// Store persists answer snapshots. Create must fail with CodeConflict when a
// row with the same (wizard_id, version) already exists; that is the only
// concurrency control the append path relies on.
type Store interface {
	Create(ctx context.Context, s AnswerSnapshot) error
	Latest(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) (AnswerSnapshot, error)
	ByVersion(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID, version int) (AnswerSnapshot, error)
	History(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) ([]AnswerSnapshot, error)
}

// Service appends and reads answer snapshots.
type Service struct {
	store  Store
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs a snapshot Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append captures a new snapshot at version latest+1. A concurrent append to
// the same wizard surfaces as CodeConflict; the caller re-reads and retries.
func (s *Service) Append(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID, completedStep int, answers json.RawMessage) (AnswerSnapshot, error) {
	if tenantID.IsNil() || wizardID.IsNil() {
		return AnswerSnapshot{}, dErrors.New(dErrors.CodeValidation, "tenant and wizard are required")
	}
	if len(answers) == 0 {
		return AnswerSnapshot{}, dErrors.New(dErrors.CodeValidation, "answers payload is required")
	}
	if !json.Valid(answers) {
		return AnswerSnapshot{}, dErrors.New(dErrors.CodeValidation, "answers payload is not valid JSON")
	}

	version := 1
	latest, err := s.store.Latest(ctx, tenantID, wizardID)
	switch {
	case err == nil:
		if latest.Final {
			return AnswerSnapshot{}, dErrors.New(dErrors.CodeConflict, "wizard is finalized")
		}
		version = latest.Version + 1
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		// First snapshot for this wizard.
	default:
		return AnswerSnapshot{}, err
	}

	snap := AnswerSnapshot{
		ID:            id.NewSnapshotID(),
		TenantID:      tenantID,
		WizardID:      wizardID,
		Version:       version,
		CompletedStep: completedStep,
		Answers:       answers,
		ContentHash:   HashAnswers(answers),
		CreatedBy:     requestcontext.Actor(ctx),
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, snap); err != nil {
		return AnswerSnapshot{}, err
	}

	s.logger.InfoContext(ctx, "snapshot appended",
		"tenant_id", tenantID,
		"wizard_id", wizardID,
		"version", snap.Version,
		"content_hash", snap.ContentHash,
	)
	return snap, nil
}

// MarkFinal seals the wizard's answers. Finalization is itself append-only:
// it writes a new version copying the latest payload with the final flag set,
// so the pre-final history stays intact.
func (s *Service) MarkFinal(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) (AnswerSnapshot, error) {
	latest, err := s.store.Latest(ctx, tenantID, wizardID)
	if err != nil {
		return AnswerSnapshot{}, err
	}
	if latest.Final {
		return latest, nil
	}

	snap := AnswerSnapshot{
		ID:            id.NewSnapshotID(),
		TenantID:      tenantID,
		WizardID:      wizardID,
		Version:       latest.Version + 1,
		CompletedStep: latest.CompletedStep,
		Answers:       latest.Answers,
		ContentHash:   latest.ContentHash,
		Final:         true,
		CreatedBy:     requestcontext.Actor(ctx),
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, snap); err != nil {
		return AnswerSnapshot{}, err
	}

	s.logger.InfoContext(ctx, "snapshot finalized",
		"tenant_id", tenantID,
		"wizard_id", wizardID,
		"version", snap.Version,
	)
	return snap, nil
}

// Latest returns the most recent snapshot for a wizard.
func (s *Service) Latest(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) (AnswerSnapshot, error) {
	return s.store.Latest(ctx, tenantID, wizardID)
}

// ByVersion returns a specific snapshot version.
func (s *Service) ByVersion(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID, version int) (AnswerSnapshot, error) {
	if version < 1 {
		return AnswerSnapshot{}, dErrors.New(dErrors.CodeValidation, "version must be positive")
	}
	return s.store.ByVersion(ctx, tenantID, wizardID, version)
}

// History returns all snapshot versions for a wizard, oldest first.
func (s *Service) History(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) ([]AnswerSnapshot, error) {
	return s.store.History(ctx, tenantID, wizardID)
}
