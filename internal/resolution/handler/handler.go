package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"controlplane/internal/explain"
	"controlplane/internal/platform/metrics"
	"controlplane/internal/platform/middleware"
	"controlplane/internal/resolution"
	"controlplane/internal/snapshot"
	"controlplane/internal/tailoring"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	"controlplane/pkg/platform/httputil"
	"controlplane/pkg/requestcontext"
)

// Service defines the resolution operations the handler needs.
type Service interface {
	RunResolution(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) (resolution.Summary, error)
	Summary(ctx context.Context, tenantID id.TenantID, runID id.RunID) (resolution.Summary, error)
	Entries(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]resolution.ControlSetEntry, error)
}

// ExplainService defines the explainability operations the handler needs.
type ExplainService interface {
	ListByRun(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]explain.Payload, error)
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]explain.Payload, error)
	Override(ctx context.Context, tenantID id.TenantID, payloadID id.PayloadID, decision, justification string) (explain.Payload, error)
}

// TailoringService defines the tailoring operations the handler needs.
type TailoringService interface {
	Apply(ctx context.Context, d tailoring.Decision) (resolution.ControlSetEntry, error)
}

// SnapshotService defines the answer ingestion operations the handler needs.
type SnapshotService interface {
	Append(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID, completedStep int, answers json.RawMessage) (snapshot.AnswerSnapshot, error)
	MarkFinal(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) (snapshot.AnswerSnapshot, error)
}

// Handler wires snapshot ingestion, resolution, explainability and tailoring
// endpoints to their services.
type Handler struct {
	resolution Service
	explains   ExplainService
	tailorings TailoringService
	snapshots  SnapshotService
	logger     *slog.Logger
	metrics    *metrics.Metrics
	validator  middleware.JWTValidator
}

// New constructs the API handler with its dependencies.
func New(
	service Service,
	explains ExplainService,
	tailorings TailoringService,
	snapshots SnapshotService,
	logger *slog.Logger,
	m *metrics.Metrics,
	validator middleware.JWTValidator) *Handler {
	return &Handler{
		resolution: service,
		explains:   explains,
		tailorings: tailorings,
		snapshots:  snapshots,
		logger:     logger,
		metrics:    m,
		validator:  validator,
	}
}

// Register mounts the API routes with the standard middleware chain.
func (h *Handler) Register(r chi.Router) {
	api := chi.NewRouter()
	api.Use(middleware.Recovery(h.logger))
	api.Use(middleware.RequestID)
	api.Use(middleware.RequestTime)
	api.Use(middleware.Logger(h.logger))
	api.Use(middleware.Timeout(3 * time.Minute))
	api.Use(middleware.ContentTypeJSON)
	api.Use(middleware.Latency(h.metrics))
	api.Use(middleware.RequireAuth(h.validator, h.logger))

	api.Post("/snapshots", h.handleAppendSnapshot)
	api.Post("/snapshots/{wizardID}/finalize", h.handleFinalizeSnapshot)
	api.Post("/resolution/run", h.handleRun)
	api.Get("/resolution/summary/{runID}", h.handleSummary)
	api.Get("/resolution/entries/{runID}", h.handleEntries)
	api.Get("/explanations", h.handleListExplanations)
	api.Post("/explanations/{payloadID}/override", h.handleOverride)
	api.Post("/controlset/{entryID}/tailor", h.handleTailor)

	r.Mount("/", api)
}

// handleAppendSnapshot handles POST /snapshots.
func (h *Handler) handleAppendSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx, requestID)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[AppendSnapshotRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	snap, err := h.snapshots.Append(ctx, tenantID, req.ParsedWizardID(), req.CompletedStep, req.Answers)
	if err != nil {
		h.logger.ErrorContext(ctx, "snapshot append failed",
			"request_id", requestID,
			"tenant_id", tenantID,
			"wizard_id", req.WizardID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromSnapshot(snap))
}

// handleFinalizeSnapshot handles POST /snapshots/{wizardID}/finalize.
func (h *Handler) handleFinalizeSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx, requestID)
	if !ok {
		return
	}
	wizardUUID, err := uuid.Parse(chi.URLParam(r, "wizardID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "wizard ID must be a UUID"))
		return
	}

	snap, err := h.snapshots.MarkFinal(ctx, tenantID, id.WizardID(wizardUUID))
	if err != nil {
		h.logger.ErrorContext(ctx, "snapshot finalize failed",
			"request_id", requestID,
			"tenant_id", tenantID,
			"wizard_id", wizardUUID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSnapshot(snap))
}

// handleRun handles POST /resolution/run.
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	tenantID, ok := h.requireTenant(w, ctx, requestID)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[RunRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	summary, err := h.resolution.RunResolution(ctx, tenantID, req.ParsedWizardID())
	if err != nil {
		h.logger.ErrorContext(ctx, "resolution run failed",
			"request_id", requestID,
			"tenant_id", tenantID,
			"wizard_id", req.WizardID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "resolution run completed",
		"request_id", requestID,
		"tenant_id", tenantID,
		"run_id", summary.RunID,
		"controls_resolved", summary.ControlsResolved,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, FromSummary(summary))
}

// handleSummary handles GET /resolution/summary/{runID}.
func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx, requestID)
	if !ok {
		return
	}
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}

	summary, err := h.resolution.Summary(ctx, tenantID, runID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSummary(summary))
}

// handleEntries handles GET /resolution/entries/{runID}.
func (h *Handler) handleEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx, requestID)
	if !ok {
		return
	}
	runID, ok := pathRunID(w, r)
	if !ok {
		return
	}

	entries, err := h.resolution.Entries(ctx, tenantID, runID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntries(entries))
}

// handleListExplanations handles GET /explanations with an optional run_id
// query filter.
func (h *Handler) handleListExplanations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx, requestID)
	if !ok {
		return
	}

	var payloads []explain.Payload
	var err error
	if raw := r.URL.Query().Get("run_id"); raw != "" {
		runUUID, parseErr := uuid.Parse(raw)
		if parseErr != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "run_id must be a UUID"))
			return
		}
		payloads, err = h.explains.ListByRun(ctx, tenantID, id.RunID(runUUID))
	} else {
		payloads, err = h.explains.ListByTenant(ctx, tenantID)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPayloads(payloads))
}

// handleOverride handles POST /explanations/{payloadID}/override.
func (h *Handler) handleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx, requestID)
	if !ok {
		return
	}
	payloadUUID, err := uuid.Parse(chi.URLParam(r, "payloadID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "payload ID must be a UUID"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[OverrideRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	payload, err := h.explains.Override(ctx, tenantID, id.PayloadID(payloadUUID), req.Decision, req.Justification)
	if err != nil {
		h.logger.ErrorContext(ctx, "override failed",
			"request_id", requestID,
			"tenant_id", tenantID,
			"payload_id", payloadUUID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPayload(payload))
}

// handleTailor handles POST /controlset/{entryID}/tailor.
func (h *Handler) handleTailor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	tenantID, ok := h.requireTenant(w, ctx, requestID)
	if !ok {
		return
	}
	entryUUID, err := uuid.Parse(chi.URLParam(r, "entryID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "entry ID must be a UUID"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[TailorRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	decision := tailoring.Decision{
		TenantID:            tenantID,
		EntryID:             id.EntryID(entryUUID),
		Type:                req.ParsedType(),
		Justification:       req.Justification,
		CompensatingControl: req.CompensatingControl,
		ModifiedAspects:     req.ModifiedAspects,
		Approver:            requestcontext.Actor(ctx),
	}

	effective, err := h.tailorings.Apply(ctx, decision)
	if err != nil {
		h.logger.ErrorContext(ctx, "tailoring failed",
			"request_id", requestID,
			"tenant_id", tenantID,
			"entry_id", entryUUID,
			"decision_type", req.Type,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntry(effective))
}

func (h *Handler) requireTenant(w http.ResponseWriter, ctx context.Context, requestID string) (id.TenantID, bool) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		// RequireAuth should have rejected the request already.
		h.logger.ErrorContext(ctx, "tenant missing from context despite auth middleware",
			"request_id", requestID,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.TenantID{}, false
	}
	return tenantID, true
}

func pathRunID(w http.ResponseWriter, r *http.Request) (id.RunID, bool) {
	runUUID, err := uuid.Parse(chi.URLParam(r, "runID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "run ID must be a UUID"))
		return id.RunID{}, false
	}
	return id.RunID(runUUID), true
}
