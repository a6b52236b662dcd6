package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlplane/internal/catalog"
	catalogstore "controlplane/internal/catalog/store"
	"controlplane/internal/explain"
	explainstore "controlplane/internal/explain/store"
	"controlplane/internal/overlay"
	"controlplane/internal/platform/metrics"
	"controlplane/internal/platform/token"
	"controlplane/internal/resolution"
	"controlplane/internal/resolution/handler"
	"controlplane/internal/resolution/lock"
	resolutionstore "controlplane/internal/resolution/store"
	"controlplane/internal/rules"
	"controlplane/internal/snapshot"
	snapshotstore "controlplane/internal/snapshot/store"
	"controlplane/internal/tailoring"
	tailoringstore "controlplane/internal/tailoring/store"
	id "controlplane/pkg/domain"
	"controlplane/pkg/requestcontext"
)

type env struct {
	router       chi.Router
	tokens       *token.Service
	tenantID     id.TenantID
	wizardID     id.WizardID
	snapshots    *snapshot.Service
	explainStore *explainstore.InMemory
	tailorStore  *tailoringstore.InMemory
}

func testCatalog() catalog.Snapshot {
	effective := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return catalog.Snapshot{
		Controls: []catalog.Control{
			{
				ID: id.NewControlID(), Code: "ECC-1-1", Name: "Governance",
				FrameworkCode: "NCA-ECC", Status: catalog.ControlActive,
				Priority: 1, EffectiveDate: effective,
				Aspects: map[string]string{"review": "annual"},
			},
			{
				ID: id.NewControlID(), Code: "CMP-7", Name: "Compensating logging",
				FrameworkCode: "NCA-ECC", Status: catalog.ControlActive,
				Priority: 2, EffectiveDate: effective,
			},
		},
		Frameworks: []catalog.Framework{
			{ID: id.NewFrameworkID(), Code: "NCA-ECC", Name: "NCA Essential Cybersecurity Controls",
				CountryCode: "SA", Mandatory: true, Priority: 1, Active: true},
		},
		RuleSet: rules.RuleSet{Code: "applicability", Version: "1"},
		Overlays: []overlay.Overlay{
			{
				ID: id.NewOverlayID(), Code: "PII-Extra", Name: "PII Handling",
				Type:    overlay.TypeDataType,
				Trigger: rules.Condition{Field: "processesPII", Operator: rules.OpIsTrue},
				Active:  true,
				Deltas:  []overlay.ControlDelta{{ControlCode: "PII-9", Add: true}},
				Reason:  "tenant processes personal data",
			},
		},
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.New(catalogstore.NewInMemoryWith(testCatalog()))

	snapshots := snapshot.NewService(snapshotstore.NewInMemory(), snapshot.WithLogger(logger))
	explainStore := explainstore.NewInMemory()
	tailorStore := tailoringstore.NewInMemory()

	resolutionSvc := resolution.NewService(
		resolutionstore.NewInMemory(),
		cat,
		snapshots,
		explainStore,
		lock.NewInMemory(),
		resolution.WithLogger(logger),
	)
	explainSvc := explain.NewService(explainStore, explain.WithLogger(logger))
	tailoringSvc := tailoring.NewService(tailorStore, cat, tailoring.WithLogger(logger))

	tokens := token.NewService("test-signing-key", "controlplane", "controlplane-api")
	h := handler.New(resolutionSvc, explainSvc, tailoringSvc, snapshots, logger, metrics.New(), tokens)

	router := chi.NewRouter()
	h.Register(router)

	return &env{
		router:       router,
		tokens:       tokens,
		tenantID:     id.NewTenantID(),
		wizardID:     id.NewWizardID(),
		snapshots:    snapshots,
		explainStore: explainStore,
		tailorStore:  tailorStore,
	}
}

func (e *env) bearer(t *testing.T) string {
	t.Helper()
	tok, err := e.tokens.Generate(e.tenantID, "officer@example.sa", time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (e *env) do(t *testing.T, method, path, auth string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *env) seedAnswers(t *testing.T) {
	t.Helper()
	ctx := requestcontext.WithActor(t.Context(), "onboarding@example.sa")
	_, err := e.snapshots.Append(ctx, e.tenantID, e.wizardID, 7, json.RawMessage(
		`{"sector":"banking","country":"SA","dataTypes":["PII"]}`))
	require.NoError(t, err)
}

func (e *env) materialize(t *testing.T) handler.SummaryResponse {
	t.Helper()
	e.seedAnswers(t)
	rec := e.do(t, http.MethodPost, "/resolution/run", e.bearer(t),
		map[string]string{"wizard_id": e.wizardID.String()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var summary handler.SummaryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	return summary
}

func TestHandler_Snapshots(t *testing.T) {
	appendBody := func(e *env) map[string]any {
		return map[string]any{
			"wizard_id":      e.wizardID.String(),
			"completed_step": 7,
			"answers":        json.RawMessage(`{"sector":"banking","country":"SA","dataTypes":["PII"]}`),
		}
	}

	t.Run("appends versions through the API", func(t *testing.T) {
		e := newEnv(t)

		rec := e.do(t, http.MethodPost, "/snapshots", e.bearer(t), appendBody(e))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var first handler.SnapshotResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
		assert.Equal(t, 1, first.Version)
		assert.Equal(t, e.wizardID.String(), first.WizardID)
		assert.NotEmpty(t, first.ContentHash)
		assert.Equal(t, "officer@example.sa", first.CreatedBy)

		rec = e.do(t, http.MethodPost, "/snapshots", e.bearer(t), appendBody(e))
		require.Equal(t, http.StatusCreated, rec.Code)
		var second handler.SnapshotResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
		assert.Equal(t, 2, second.Version)
		assert.Equal(t, first.ContentHash, second.ContentHash)
	})

	t.Run("ingested answers feed a resolution run", func(t *testing.T) {
		e := newEnv(t)

		rec := e.do(t, http.MethodPost, "/snapshots", e.bearer(t), appendBody(e))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		rec = e.do(t, http.MethodPost, "/resolution/run", e.bearer(t),
			map[string]string{"wizard_id": e.wizardID.String()})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var summary handler.SummaryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, "materialized", summary.State)
		assert.Equal(t, 1, summary.SnapshotVersion)
	})

	t.Run("finalize seals the wizard against further appends", func(t *testing.T) {
		e := newEnv(t)

		rec := e.do(t, http.MethodPost, "/snapshots", e.bearer(t), appendBody(e))
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = e.do(t, http.MethodPost, "/snapshots/"+e.wizardID.String()+"/finalize", e.bearer(t), nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var sealed handler.SnapshotResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sealed))
		assert.True(t, sealed.Final)
		assert.Equal(t, 2, sealed.Version)

		rec = e.do(t, http.MethodPost, "/snapshots", e.bearer(t), appendBody(e))
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rejects an append without answers", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/snapshots", e.bearer(t),
			map[string]any{"wizard_id": e.wizardID.String(), "completed_step": 1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "answers")
	})

	t.Run("rejects finalize for a wizard with no snapshots", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/snapshots/"+id.NewWizardID().String()+"/finalize",
			e.bearer(t), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_Run(t *testing.T) {
	t.Run("rejects requests without a bearer token", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/resolution/run", "",
			map[string]string{"wizard_id": e.wizardID.String()})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("rejects a forged token", func(t *testing.T) {
		e := newEnv(t)
		other := token.NewService("different-key", "controlplane", "controlplane-api")
		forged, err := other.Generate(e.tenantID, "intruder", time.Hour)
		require.NoError(t, err)

		rec := e.do(t, http.MethodPost, "/resolution/run", "Bearer "+forged,
			map[string]string{"wizard_id": e.wizardID.String()})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("materializes a run", func(t *testing.T) {
		e := newEnv(t)
		summary := e.materialize(t)

		assert.Equal(t, "materialized", summary.State)
		assert.Equal(t, 1, summary.SnapshotVersion)
		require.Len(t, summary.FrameworkSelections, 1)
		assert.Equal(t, "NCA-ECC", summary.FrameworkSelections[0].FrameworkCode)
		require.Len(t, summary.OverlaysApplied, 1)
		assert.Equal(t, []string{"PII-9"}, summary.OverlaysApplied[0].AddedCodes)
		assert.Equal(t, 3, summary.ControlsResolved)
	})

	t.Run("rejects a malformed wizard id", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/resolution/run", e.bearer(t),
			map[string]string{"wizard_id": "not-a-uuid"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "validation_error")
	})

	t.Run("rejects a non-JSON content type", func(t *testing.T) {
		e := newEnv(t)
		req := httptest.NewRequest(http.MethodPost, "/resolution/run",
			bytes.NewReader([]byte("wizard_id=x")))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Authorization", e.bearer(t))
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("reports a missing snapshot as a validation failure", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/resolution/run", e.bearer(t),
			map[string]string{"wizard_id": e.wizardID.String()})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_SummaryAndEntries(t *testing.T) {
	t.Run("returns the stored summary", func(t *testing.T) {
		e := newEnv(t)
		created := e.materialize(t)

		rec := e.do(t, http.MethodGet, "/resolution/summary/"+created.RunID, e.bearer(t), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var summary handler.SummaryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, created.RunID, summary.RunID)
	})

	t.Run("rejects a malformed run id", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodGet, "/resolution/summary/nope", e.bearer(t), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown run is not found", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodGet, "/resolution/summary/"+id.NewRunID().String(), e.bearer(t), nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("lists the materialized entries", func(t *testing.T) {
		e := newEnv(t)
		created := e.materialize(t)

		rec := e.do(t, http.MethodGet, "/resolution/entries/"+created.RunID, e.bearer(t), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var entries []handler.EntryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 3)
		for _, entry := range entries {
			assert.Equal(t, created.RunID, entry.RunID)
			assert.Equal(t, "active", entry.Status)
		}
	})

	t.Run("another tenant sees nothing", func(t *testing.T) {
		e := newEnv(t)
		created := e.materialize(t)

		strangerTokens, err := e.tokens.Generate(id.NewTenantID(), "stranger", time.Hour)
		require.NoError(t, err)
		rec := e.do(t, http.MethodGet, "/resolution/summary/"+created.RunID, "Bearer "+strangerTokens, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandler_Explanations(t *testing.T) {
	t.Run("lists payloads for a run", func(t *testing.T) {
		e := newEnv(t)
		created := e.materialize(t)

		rec := e.do(t, http.MethodGet, "/explanations?run_id="+created.RunID, e.bearer(t), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var payloads []handler.PayloadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payloads))
		// One framework selection, one overlay, one risk classification.
		assert.Len(t, payloads, 3)
	})

	t.Run("rejects a malformed run filter", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodGet, "/explanations?run_id=nope", e.bearer(t), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("override fills the slot and reports the actor", func(t *testing.T) {
		e := newEnv(t)
		created := e.materialize(t)

		rec := e.do(t, http.MethodGet, "/explanations?run_id="+created.RunID, e.bearer(t), nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var payloads []handler.PayloadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payloads))
		require.NotEmpty(t, payloads)

		rec = e.do(t, http.MethodPost, "/explanations/"+payloads[0].ID+"/override", e.bearer(t),
			map[string]string{"decision": "excluded", "justification": "regulator approved exemption"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var overridden handler.PayloadResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overridden))
		require.NotNil(t, overridden.Override)
		assert.Equal(t, "officer@example.sa", overridden.Override.By)
		assert.Equal(t, "excluded", overridden.Override.Decision)
	})

	t.Run("override requires decision and justification", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/explanations/"+id.NewPayloadID().String()+"/override",
			e.bearer(t), map[string]string{"decision": "excluded"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Tailor(t *testing.T) {
	seedEntry := func(e *env) resolution.ControlSetEntry {
		entry := resolution.ControlSetEntry{
			ID:          id.NewEntryID(),
			TenantID:    e.tenantID,
			RunID:       id.NewRunID(),
			ControlID:   id.NewControlID(),
			ControlCode: "ECC-1-1",
			Mandatory:   true,
			Aspects:     map[string]string{"review": "annual"},
			Source:      resolution.SourceFramework,
			Status:      resolution.EntryActive,
		}
		e.tailorStore.SeedEntry(entry)
		return entry
	}

	t.Run("modify supersedes the baseline entry", func(t *testing.T) {
		e := newEnv(t)
		entry := seedEntry(e)

		rec := e.do(t, http.MethodPost, "/controlset/"+entry.ID.String()+"/tailor", e.bearer(t),
			map[string]any{
				"type":             "modify",
				"justification":    "tighter cadence required by internal policy",
				"modified_aspects": map[string]string{"review": "quarterly"},
			})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var effective handler.EntryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &effective))
		assert.Equal(t, "tailoring", effective.Source)
		assert.Equal(t, "quarterly", effective.Aspects["review"])
		assert.Equal(t, entry.ID.String(), effective.BaselineID)
	})

	t.Run("compensate resolves the substitute against the catalog", func(t *testing.T) {
		e := newEnv(t)
		entry := seedEntry(e)

		rec := e.do(t, http.MethodPost, "/controlset/"+entry.ID.String()+"/tailor", e.bearer(t),
			map[string]any{
				"type":                 "compensate",
				"justification":        "legacy platform cannot implement the control",
				"compensating_control": "CMP-7",
			})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var effective handler.EntryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &effective))
		assert.False(t, effective.Mandatory)
		assert.Equal(t, "CMP-7", effective.Aspects["compensating_control"])
	})

	t.Run("unknown decision type is rejected before the service", func(t *testing.T) {
		e := newEnv(t)
		entry := seedEntry(e)

		rec := e.do(t, http.MethodPost, "/controlset/"+entry.ID.String()+"/tailor", e.bearer(t),
			map[string]string{"type": "waive"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "unknown decision type")
	})

	t.Run("malformed entry id is rejected", func(t *testing.T) {
		e := newEnv(t)
		rec := e.do(t, http.MethodPost, "/controlset/nope/tailor", e.bearer(t),
			map[string]string{"type": "accept"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
