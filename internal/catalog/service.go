package catalog

import (
	"context"
	"log/slog"

	"controlplane/internal/inheritance"
	"controlplane/internal/rules"
	dErrors "controlplane/pkg/errors"
)

// Store is the persistence surface the catalog service needs. Postgres and
// in-memory implementations live under store/.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	SaveControl(ctx context.Context, control Control) error
	SaveEdge(ctx context.Context, edge inheritance.Edge) error
	SaveRule(ctx context.Context, rule rules.Rule) error
	SaveMapping(ctx context.Context, mapping ControlMapping) error
}

// Service fronts catalog reads and validates writes. Write-time validation is
// what lets the resolution pipeline assume well-formed rules and an acyclic
// inheritance graph.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New constructs a catalog Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the full catalog slice for a resolution run.
func (s *Service) Load(ctx context.Context) (Snapshot, error) {
	snapshot, err := s.store.Load(ctx)
	if err != nil {
		return Snapshot{}, dErrors.Wrap(err, dErrors.CodeResolution, "catalog unavailable")
	}
	return snapshot, nil
}

// ControlByCode looks up a single control by its catalog code.
func (s *Service) ControlByCode(ctx context.Context, code string) (Control, error) {
	snapshot, err := s.Load(ctx)
	if err != nil {
		return Control{}, err
	}
	for _, control := range snapshot.Controls {
		if control.Code == code {
			return control, nil
		}
	}
	return Control{}, dErrors.Newf(dErrors.CodeNotFound, "control %q not found", code)
}

// AddControl validates and persists a new catalog control record.
func (s *Service) AddControl(ctx context.Context, control Control) error {
	if control.Code == "" || control.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "control code and name are required")
	}
	if control.FrameworkCode == "" {
		return dErrors.New(dErrors.CodeValidation, "control must name an owning framework")
	}
	if err := s.store.SaveControl(ctx, control); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save control")
	}
	return nil
}

// AddInheritanceEdge validates a new inheritance edge. An edge that would
// close a cycle is rejected here with a validation error; resolution never
// re-checks, so this gate is mandatory for all write paths.
func (s *Service) AddInheritanceEdge(ctx context.Context, edge inheritance.Edge) error {
	if edge.Parent.IsNil() || edge.Child.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "inheritance edge requires parent and child controls")
	}
	if edge.Parent == edge.Child {
		return dErrors.New(dErrors.CodeValidation, "control cannot inherit from itself")
	}
	if edge.Percentage < 0 || edge.Percentage > 100 {
		return dErrors.New(dErrors.CodeValidation, "inheritance percentage must be between 0 and 100")
	}
	if edge.ExpiryDate != nil && !edge.ExpiryDate.After(edge.EffectiveDate) {
		return dErrors.New(dErrors.CodeValidation, "inheritance expiry must follow effective date")
	}

	snapshot, err := s.store.Load(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load catalog for cycle check")
	}
	if snapshot.Graph().WouldCycle(edge) {
		return dErrors.Newf(dErrors.CodeValidation,
			"edge %s -> %s would close an inheritance cycle", edge.Parent, edge.Child)
	}

	if err := s.store.SaveEdge(ctx, edge); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save inheritance edge")
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "inheritance edge added",
			"parent", edge.Parent,
			"child", edge.Child,
			"percentage", edge.Percentage,
		)
	}
	return nil
}

// AddRule validates an applicability rule's condition shape at write time so
// malformed rules never reach evaluation.
func (s *Service) AddRule(ctx context.Context, rule rules.Rule) error {
	if rule.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "rule code is required")
	}
	if rule.TargetCode == "" {
		return dErrors.New(dErrors.CodeValidation, "rule must name a target control, framework or overlay")
	}
	switch rule.TargetKind {
	case rules.TargetControl, rules.TargetFramework, rules.TargetOverlay:
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown rule target kind %q", rule.TargetKind)
	}
	if err := rule.Condition.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveRule(ctx, rule); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save rule")
	}
	return nil
}

// AddMapping persists a verified-or-not cross-framework control mapping.
func (s *Service) AddMapping(ctx context.Context, mapping ControlMapping) error {
	if mapping.SourceControl.IsNil() || mapping.TargetControl.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "mapping requires source and target controls")
	}
	if mapping.SourceControl == mapping.TargetControl {
		return dErrors.New(dErrors.CodeValidation, "mapping cannot relate a control to itself")
	}
	if mapping.Confidence < 0 || mapping.Confidence > 100 {
		return dErrors.New(dErrors.CodeValidation, "mapping confidence must be between 0 and 100")
	}
	switch mapping.Strength {
	case MappingEquivalent, MappingSubset, MappingRelated:
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown mapping strength %q", mapping.Strength)
	}
	if err := s.store.SaveMapping(ctx, mapping); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save mapping")
	}
	return nil
}
