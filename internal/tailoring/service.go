package tailoring

import (
	"context"
	"log/slog"
	"strings"

	"controlplane/internal/catalog"
	"controlplane/internal/resolution"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	"controlplane/pkg/requestcontext"
)

// Store persists decisions and their effective entries. Apply must write the
// decision, mark the baseline superseded and insert the effective entry in
// one transaction.
type Store interface {
	Apply(ctx context.Context, decision Decision, effective resolution.ControlSetEntry) error
	ByHash(ctx context.Context, tenantID id.TenantID, entryID id.EntryID, hash string) (Decision, error)
	Entry(ctx context.Context, tenantID id.TenantID, entryID id.EntryID) (resolution.ControlSetEntry, error)
	EffectiveEntry(ctx context.Context, tenantID id.TenantID, decisionID id.DecisionID) (resolution.ControlSetEntry, error)
	Decisions(ctx context.Context, tenantID id.TenantID, entryID id.EntryID) ([]Decision, error)
}

// ControlLookup resolves a control code against the catalog. The tailoring
// layer uses it to verify compensating control references.
type ControlLookup interface {
	ControlByCode(ctx context.Context, code string) (catalog.Control, error)
}

// Service validates and applies tailoring decisions.
type Service struct {
	store   Store
	catalog ControlLookup
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService constructs a tailoring Service.
func NewService(store Store, lookup ControlLookup, opts ...Option) *Service {
	s := &Service{store: store, catalog: lookup, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply validates a decision and produces the effective entry it yields.
// Replaying an identical decision (same type, justification, compensating
// reference and modifications) returns the existing effective entry.
func (s *Service) Apply(ctx context.Context, d Decision) (resolution.ControlSetEntry, error) {
	if err := s.validate(ctx, &d); err != nil {
		return resolution.ControlSetEntry{}, err
	}

	d.Hash = d.ContentHash()
	if existing, err := s.store.ByHash(ctx, d.TenantID, d.EntryID, d.Hash); err == nil {
		entry, err := s.store.EffectiveEntry(ctx, d.TenantID, existing.ID)
		if err != nil {
			return resolution.ControlSetEntry{}, err
		}
		s.logger.InfoContext(ctx, "tailoring decision replayed",
			"tenant_id", d.TenantID,
			"entry_id", d.EntryID,
			"decision_id", existing.ID,
		)
		return entry, nil
	} else if !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return resolution.ControlSetEntry{}, err
	}

	baseline, err := s.store.Entry(ctx, d.TenantID, d.EntryID)
	if err != nil {
		return resolution.ControlSetEntry{}, err
	}
	if baseline.Status != resolution.EntryActive {
		return resolution.ControlSetEntry{}, dErrors.New(dErrors.CodeConflict,
			"entry is already superseded, tailor the current entry instead")
	}

	d.ID = id.NewDecisionID()
	d.Approver = requestcontext.Actor(ctx)
	d.DecidedAt = requestcontext.Now(ctx)

	effective := s.effectiveEntry(baseline, d)
	if err := s.store.Apply(ctx, d, effective); err != nil {
		return resolution.ControlSetEntry{}, err
	}

	s.logger.InfoContext(ctx, "tailoring decision applied",
		"tenant_id", d.TenantID,
		"entry_id", d.EntryID,
		"decision_id", d.ID,
		"type", d.Type,
		"control", baseline.ControlCode,
	)
	return effective, nil
}

// History returns all decisions recorded against an entry.
func (s *Service) History(ctx context.Context, tenantID id.TenantID, entryID id.EntryID) ([]Decision, error) {
	return s.store.Decisions(ctx, tenantID, entryID)
}

func (s *Service) validate(ctx context.Context, d *Decision) error {
	if d.TenantID.IsNil() || d.EntryID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "tenant and entry are required")
	}
	switch d.Type {
	case DecisionAccept:
	case DecisionModify:
		if len(d.ModifiedAspects) == 0 {
			return dErrors.New(dErrors.CodeValidation, "modify decision requires at least one aspect change")
		}
	case DecisionRemove:
		if strings.TrimSpace(d.Justification) == "" {
			return dErrors.New(dErrors.CodeValidation, "removing a control requires a justification")
		}
	case DecisionCompensate:
		if strings.TrimSpace(d.Justification) == "" {
			return dErrors.New(dErrors.CodeValidation, "compensating a control requires a justification")
		}
		if d.CompensatingControl == "" {
			return dErrors.New(dErrors.CodeValidation, "compensate decision requires a compensating control")
		}
		if _, err := s.catalog.ControlByCode(ctx, d.CompensatingControl); err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return dErrors.Newf(dErrors.CodeValidation,
					"compensating control %q does not exist", d.CompensatingControl)
			}
			return err
		}
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown decision type %q", d.Type)
	}
	return nil
}

// effectiveEntry derives the replacement entry a decision produces. The
// baseline is never mutated here; the store marks it superseded.
func (s *Service) effectiveEntry(baseline resolution.ControlSetEntry, d Decision) resolution.ControlSetEntry {
	effective := baseline
	effective.ID = id.NewEntryID()
	effective.Source = resolution.SourceTailoring
	effective.SourceCode = string(d.Type)
	effective.Status = resolution.EntryActive
	effective.SupersededBy = id.EntryID{}
	effective.BaselineID = baseline.ID
	effective.DecisionID = d.ID
	effective.CreatedAt = d.DecidedAt

	effective.Aspects = make(map[string]string, len(baseline.Aspects))
	for k, v := range baseline.Aspects {
		effective.Aspects[k] = v
	}

	switch d.Type {
	case DecisionModify:
		for k, v := range d.ModifiedAspects {
			effective.Aspects[k] = v
		}
	case DecisionRemove:
		effective.Status = resolution.EntryRemoved
		effective.Mandatory = false
	case DecisionCompensate:
		effective.Mandatory = false
		effective.Aspects["compensating_control"] = d.CompensatingControl
	}
	return effective
}
