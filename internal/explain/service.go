package explain

import (
	"context"
	"log/slog"
	"strings"

	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	"controlplane/pkg/requestcontext"
)

// Store persists explainability payloads. SetOverride must fill the slot
// atomically and fail with CodeConflict when it is already occupied.
type Store interface {
	Create(ctx context.Context, p Payload) error
	Get(ctx context.Context, tenantID id.TenantID, payloadID id.PayloadID) (Payload, error)
	SetOverride(ctx context.Context, tenantID id.TenantID, payloadID id.PayloadID, ov Override) error
	ListByRun(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]Payload, error)
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]Payload, error)
}

// Service reads and overrides explainability payloads. Payload creation
// happens inside the orchestrator's materialization transaction; the service
// only covers the read and override paths.
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

// NewService constructs an explain Service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns one payload.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID, payloadID id.PayloadID) (Payload, error) {
	return s.store.Get(ctx, tenantID, payloadID)
}

// ListByRun returns all payloads a run produced.
func (s *Service) ListByRun(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]Payload, error) {
	return s.store.ListByRun(ctx, tenantID, runID)
}

// ListByTenant returns all payloads for a tenant across runs.
func (s *Service) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]Payload, error) {
	return s.store.ListByTenant(ctx, tenantID)
}

// Override records a human reversal of an engine decision. The first
// override fills the payload's slot. A later override never replaces it:
// it creates a follow-up payload that supersedes the original, preserving
// the full override history.
func (s *Service) Override(ctx context.Context, tenantID id.TenantID, payloadID id.PayloadID, decision, justification string) (Payload, error) {
	if strings.TrimSpace(decision) == "" {
		return Payload{}, dErrors.New(dErrors.CodeValidation, "override decision is required")
	}
	if strings.TrimSpace(justification) == "" {
		return Payload{}, dErrors.New(dErrors.CodeValidation, "override justification is required")
	}
	actor := requestcontext.Actor(ctx)
	if actor == "" {
		return Payload{}, dErrors.New(dErrors.CodeUnauthorized, "override requires an authenticated actor")
	}

	original, err := s.store.Get(ctx, tenantID, payloadID)
	if err != nil {
		return Payload{}, err
	}

	ov := Override{
		By:            actor,
		Decision:      decision,
		Justification: justification,
		At:            requestcontext.Now(ctx),
	}

	if !original.Overridden() {
		err := s.store.SetOverride(ctx, tenantID, payloadID, ov)
		switch {
		case err == nil:
			original.Override = &ov
			s.logger.InfoContext(ctx, "decision overridden",
				"tenant_id", tenantID,
				"payload_id", payloadID,
				"subject", original.SubjectCode,
			)
			return original, nil
		case dErrors.HasCode(err, dErrors.CodeConflict):
			// Lost the race for the slot. Fall through to a follow-up.
			if original, err = s.store.Get(ctx, tenantID, payloadID); err != nil {
				return Payload{}, err
			}
		default:
			return Payload{}, err
		}
	}

	followUp := Payload{
		ID:           id.NewPayloadID(),
		TenantID:     original.TenantID,
		RunID:        original.RunID,
		Type:         original.Type,
		SubjectCode:  original.SubjectCode,
		SubjectName:  original.SubjectName,
		Decision:     decision,
		Reason:       justification,
		Factors:      original.Factors,
		References:   original.References,
		Confidence:   100,
		GeneratedAt:  ov.At,
		Override:     &ov,
		SupersedesID: original.ID,
	}
	if err := s.store.Create(ctx, followUp); err != nil {
		return Payload{}, err
	}

	s.logger.InfoContext(ctx, "decision overridden with follow-up",
		"tenant_id", tenantID,
		"payload_id", followUp.ID,
		"supersedes_id", original.ID,
		"subject", original.SubjectCode,
	)
	return followUp, nil
}
