package resolution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"controlplane/internal/catalog"
	"controlplane/internal/explain"
	"controlplane/internal/inheritance"
	"controlplane/internal/overlay"
	"controlplane/internal/resolution/metrics"
	"controlplane/internal/rules"
	"controlplane/internal/snapshot"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	"controlplane/pkg/platform/audit"
	"controlplane/pkg/requestcontext"
)

// Store persists runs, control set entries and evaluation logs. InTx runs fn
// with a transaction carried in its context; every store write inside fn
// commits or aborts as one unit.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateRun(ctx context.Context, run Run) error
	SaveRun(ctx context.Context, run Run) error
	Run(ctx context.Context, tenantID id.TenantID, runID id.RunID) (Run, error)
	Runs(ctx context.Context, tenantID id.TenantID) ([]Run, error)
	SaveEntries(ctx context.Context, entries []ControlSetEntry) error
	Entries(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]ControlSetEntry, error)
	SaveEvaluationLog(ctx context.Context, log EvaluationLog) error
	EvaluationLog(ctx context.Context, tenantID id.TenantID, runID id.RunID) (EvaluationLog, error)
}

// Locker serializes runs per tenant. Acquire blocks until the tenant's lock
// is free or ctx ends; the returned func releases it.
type Locker interface {
	Acquire(ctx context.Context, tenantID id.TenantID) (func(), error)
}

// CatalogSource loads the catalog slice a run evaluates against.
type CatalogSource interface {
	Load(ctx context.Context) (catalog.Snapshot, error)
}

// SnapshotSource reads answer snapshots.
type SnapshotSource interface {
	Latest(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) (snapshot.AnswerSnapshot, error)
	ByVersion(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID, version int) (snapshot.AnswerSnapshot, error)
}

// AuditPublisher records audit events for run lifecycle actions.
type AuditPublisher interface {
	Publish(ctx context.Context, event audit.Event) error
}

// Service is the resolution orchestrator.
type Service struct {
	store     Store
	catalog   CatalogSource
	snapshots SnapshotSource
	explains  explain.Store
	locker    Locker
	reference ReferenceSource
	policy    overlay.MergePolicy
	logger    *slog.Logger
	metrics   *metrics.Metrics
	auditor   AuditPublisher
	tracer    trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAuditPublisher sets the audit event sink.
func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) { s.auditor = p }
}

// WithReferenceSource sets the lookup port answers are validated against.
func WithReferenceSource(src ReferenceSource) Option {
	return func(s *Service) { s.reference = src }
}

// WithMergePolicy sets the overlay merge granularity.
func WithMergePolicy(policy overlay.MergePolicy) Option {
	return func(s *Service) { s.policy = policy }
}

// NewService constructs the orchestrator.
func NewService(store Store, cat CatalogSource, snapshots SnapshotSource, explains explain.Store, locker Locker, opts ...Option) *Service {
	s := &Service{
		store:     store,
		catalog:   cat,
		snapshots: snapshots,
		explains:  explains,
		locker:    locker,
		policy:    overlay.MergeFieldGranularity,
		logger:    slog.Default(),
		tracer:    otel.Tracer("controlplane/resolution"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunResolution executes one full resolution run for a tenant under the
// per-tenant lock. Every invocation materializes a fresh control set; a
// failure at any stage before the final write leaves no control set
// mutation.
func (s *Service) RunResolution(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) (Summary, error) {
	if tenantID.IsNil() || wizardID.IsNil() {
		return Summary{}, dErrors.New(dErrors.CodeValidation, "tenant and wizard are required")
	}

	lockStart := time.Now()
	release, err := s.locker.Acquire(ctx, tenantID)
	if err != nil {
		return Summary{}, dErrors.Wrap(err, dErrors.CodeConflict, "could not acquire tenant lock")
	}
	defer release()
	s.metrics.ObserveLockWait(time.Since(lockStart))

	ctx, span := s.tracer.Start(ctx, "resolution.run")
	defer span.End()

	run := Run{
		ID:        id.NewRunID(),
		TenantID:  tenantID,
		WizardID:  wizardID,
		State:     StateCreated,
		StartedAt: requestcontext.Now(ctx),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return Summary{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create run")
	}
	s.audit(ctx, run, audit.EventRunStarted, "", "")

	start := time.Now()
	summary, err := s.execute(ctx, &run)
	elapsed := time.Since(start)

	if err != nil {
		run.Failed = true
		run.FailureReason = err.Error()
		s.finishRun(ctx, &run)
		s.metrics.RecordRun("failed", elapsed)
		s.audit(ctx, run, audit.EventRunFailed, string(run.State), err.Error())
		s.logger.ErrorContext(ctx, "resolution run failed",
			"tenant_id", tenantID,
			"run_id", run.ID,
			"stage", run.State,
			"error", err,
		)
		return Summary{}, err
	}

	s.metrics.RecordRun("materialized", elapsed)
	s.metrics.ObserveControls(summary.ControlsResolved)
	s.audit(ctx, run, audit.EventRunMaterialized,
		fmt.Sprintf("%d controls", summary.ControlsResolved), "")
	s.logger.InfoContext(ctx, "resolution run materialized",
		"tenant_id", tenantID,
		"run_id", run.ID,
		"snapshot_version", run.SnapshotVersion,
		"frameworks", len(summary.FrameworkSelections),
		"controls", summary.ControlsResolved,
		"duration", elapsed,
	)
	return summary, nil
}

// Summary returns the stored summary of a past run.
func (s *Service) Summary(ctx context.Context, tenantID id.TenantID, runID id.RunID) (Summary, error) {
	run, err := s.store.Run(ctx, tenantID, runID)
	if err != nil {
		return Summary{}, err
	}
	if run.State != StateMaterialized {
		return Summary{}, dErrors.Newf(dErrors.CodeConflict, "run is in state %s", run.State)
	}
	return run.Summary, nil
}

// Entries returns a run's materialized control set.
func (s *Service) Entries(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]ControlSetEntry, error) {
	return s.store.Entries(ctx, tenantID, runID)
}

// execute drives the state machine. Stages mutate nothing outside the run
// record until the final transactional materialization.
func (s *Service) execute(ctx context.Context, run *Run) (Summary, error) {
	// Stage: load inputs and build the evaluation context.
	cat, snap, err := s.loadInputs(ctx, run)
	if err != nil {
		return Summary{}, err
	}
	answers, err := DecodeAnswers(snap.Answers)
	if err != nil {
		return Summary{}, err
	}
	if err := ValidateAnswerDomains(ctx, s.reference, answers); err != nil {
		return Summary{}, err
	}
	evalCtx := BuildContext(answers)
	if err := s.advance(ctx, run, StateContextBuilt); err != nil {
		return Summary{}, err
	}

	// Stage: evaluate applicability rules.
	evalLog, result, err := s.evaluateRules(ctx, run, cat, evalCtx)
	if err != nil {
		return Summary{}, err
	}

	// Stage: resolve inheritance for every baseline control.
	selections := deriveFrameworkSelections(answers, cat, result.Matched)
	baseline, err := s.resolveBaseline(ctx, run, cat, selections, result.Matched)
	if err != nil {
		return Summary{}, err
	}

	// Stage: apply overlays.
	overlayResult, err := s.applyOverlays(ctx, run, cat, baseline, evalCtx, result.Matched)
	if err != nil {
		return Summary{}, err
	}

	// Derived outputs; pure computation, no stage transition.
	boundaries := deriveScopeBoundaries(answers)
	risk := deriveRiskProfile(answers)
	kept, droppedDups := dedupeCanonical(overlayResult.Merged, cat, selections)

	// Stage: materialize everything in one transaction.
	return s.materialize(ctx, run, materializationInput{
		answers:      answers,
		evalCtx:      evalCtx,
		evalLog:      evalLog,
		selections:   selections,
		overlays:     overlayResult.Applied,
		requirements: kept,
		dedupDrops:   droppedDups,
		boundaries:   boundaries,
		risk:         risk,
	})
}

func (s *Service) loadInputs(ctx context.Context, run *Run) (catalog.Snapshot, snapshot.AnswerSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "resolution.load_inputs")
	defer span.End()

	var (
		cat  catalog.Snapshot
		snap snapshot.AnswerSnapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loaded, err := s.catalog.Load(gctx)
		if err != nil {
			return err
		}
		cat = loaded
		return nil
	})
	g.Go(func() error {
		latest, err := s.snapshots.Latest(gctx, run.TenantID, run.WizardID)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				return dErrors.Wrap(err, dErrors.CodeValidation, "wizard has no answer snapshot")
			}
			return err
		}
		snap = latest
		return nil
	})
	if err := g.Wait(); err != nil {
		return catalog.Snapshot{}, snapshot.AnswerSnapshot{}, err
	}
	run.SnapshotVersion = snap.Version
	return cat, snap, nil
}

func (s *Service) evaluateRules(ctx context.Context, run *Run, cat catalog.Snapshot, evalCtx rules.Context) (EvaluationLog, rules.EvaluationResult, error) {
	_, span := s.tracer.Start(ctx, "resolution.evaluate_rules")
	defer span.End()

	evalStart := time.Now()
	result := rules.Evaluate(cat.RuleSet, evalCtx)
	duration := time.Since(evalStart)
	s.metrics.AddRulesEvaluated(len(result.Log))

	log := EvaluationLog{
		RunID:           run.ID,
		TenantID:        run.TenantID,
		SnapshotVersion: run.SnapshotVersion,
		RuleSetCode:     cat.RuleSet.Code,
		RuleSetVersion:  cat.RuleSet.Version,
		Outcomes:        result.Log,
		Duration:        duration,
		EvaluatedAt:     requestcontext.Now(ctx),
	}
	if err := s.advance(ctx, run, StateRulesEvaluated); err != nil {
		return EvaluationLog{}, rules.EvaluationResult{}, err
	}
	return log, result, nil
}

func (s *Service) resolveBaseline(ctx context.Context, run *Run, cat catalog.Snapshot, selections []FrameworkSelection, matched []rules.MatchedRule) ([]overlay.Requirement, error) {
	_, span := s.tracer.Start(ctx, "resolution.resolve_inheritance")
	defer span.End()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	graph := cat.Graph()
	at := requestcontext.Now(ctx)
	seen := map[string]bool{}
	var baseline []overlay.Requirement

	appendControl := func(control catalog.Control, source, sourceCode string) error {
		if seen[control.Code] {
			return nil
		}
		effective, err := inheritance.Resolve(control.ID, graph, at)
		if err != nil {
			return err
		}
		seen[control.Code] = true
		baseline = append(baseline, overlay.Requirement{
			ControlID:       control.ID,
			ControlCode:     control.Code,
			FrameworkCode:   control.FrameworkCode,
			Aspects:         effective.Aspects,
			Mandatory:       true,
			EvidenceCadence: control.EvidenceCadence,
			Source:          source,
			SourceCode:      sourceCode,
		})
		return nil
	}

	for _, sel := range selections {
		for _, control := range cat.ControlsByFramework(sel.FrameworkCode) {
			if err := appendControl(control, string(SourceFramework), sel.FrameworkCode); err != nil {
				return nil, err
			}
		}
	}
	// Rules can pull individual controls in without selecting their whole
	// framework.
	for _, m := range matched {
		if m.Rule.TargetKind != rules.TargetControl {
			continue
		}
		for _, control := range cat.Controls {
			if control.Code == m.Rule.TargetCode && control.Status == catalog.ControlActive {
				if err := appendControl(control, string(SourceRule), m.Rule.Code); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := s.advance(ctx, run, StateInheritanceResolved); err != nil {
		return nil, err
	}
	return baseline, nil
}

func (s *Service) applyOverlays(ctx context.Context, run *Run, cat catalog.Snapshot, baseline []overlay.Requirement, evalCtx rules.Context, matched []rules.MatchedRule) (overlay.Result, error) {
	_, span := s.tracer.Start(ctx, "resolution.apply_overlays")
	defer span.End()
	if err := ctx.Err(); err != nil {
		return overlay.Result{}, err
	}

	var forced []string
	for _, m := range matched {
		if m.Rule.TargetKind == rules.TargetOverlay {
			forced = append(forced, m.Rule.TargetCode)
		}
	}

	result := overlay.Apply(baseline, cat.Overlays, evalCtx, s.policy, forced...)
	if err := s.advance(ctx, run, StateOverlaysApplied); err != nil {
		return overlay.Result{}, err
	}
	return result, nil
}

// advance moves the run forward one stage, persisting the transition so an
// aborted run shows where it stopped. Between stages is also where
// cooperative cancellation is checked.
func (s *Service) advance(ctx context.Context, run *Run, next RunState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !run.State.CanAdvanceTo(next) {
		return dErrors.Newf(dErrors.CodeInternal, "illegal run transition %s -> %s", run.State, next)
	}
	run.State = next
	if err := s.store.SaveRun(ctx, *run); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist run state")
	}
	return nil
}

func (s *Service) finishRun(ctx context.Context, run *Run) {
	now := requestcontext.Now(ctx)
	run.FinishedAt = &now
	if err := s.store.SaveRun(ctx, *run); err != nil {
		s.logger.ErrorContext(ctx, "failed to persist failed run",
			"run_id", run.ID, "error", err)
	}
}

func (s *Service) audit(ctx context.Context, run Run, action audit.AuditEvent, decision, reason string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Publish(ctx, audit.Event{
		Timestamp: requestcontext.Now(ctx),
		TenantID:  run.TenantID,
		Subject:   run.ID.String(),
		Action:    string(action),
		Decision:  decision,
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
		Actor:     requestcontext.Actor(ctx),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "audit publish failed",
			"action", action, "run_id", run.ID, "error", err)
	}
}
