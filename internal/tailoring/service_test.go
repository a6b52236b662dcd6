package tailoring_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlplane/internal/catalog"
	"controlplane/internal/resolution"
	"controlplane/internal/tailoring"
	"controlplane/internal/tailoring/store"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
	"controlplane/pkg/requestcontext"
)

// stubCatalog resolves a fixed set of control codes.
type stubCatalog struct {
	known map[string]catalog.Control
}

func (s stubCatalog) ControlByCode(ctx context.Context, code string) (catalog.Control, error) {
	c, ok := s.known[code]
	if !ok {
		return catalog.Control{}, dErrors.Newf(dErrors.CodeNotFound, "control %q not found", code)
	}
	return c, nil
}

func approverContext() context.Context {
	ctx := requestcontext.WithActor(context.Background(), "ciso@example.sa")
	return requestcontext.WithTime(ctx, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
}

func seedBaseline(s *store.InMemory, tenantID id.TenantID) resolution.ControlSetEntry {
	entry := resolution.ControlSetEntry{
		ID:            id.NewEntryID(),
		TenantID:      tenantID,
		RunID:         id.NewRunID(),
		ControlID:     id.NewControlID(),
		ControlCode:   "AC-1",
		FrameworkCode: "NCA-ECC",
		Mandatory:     true,
		Aspects:       map[string]string{"encryption": "AES-256", "review": "annual"},
		Source:        resolution.SourceFramework,
		Status:        resolution.EntryActive,
	}
	s.SeedEntry(entry)
	return entry
}

func newService(mem *store.InMemory) *tailoring.Service {
	lookup := stubCatalog{known: map[string]catalog.Control{
		"CMP-7": {Code: "CMP-7"},
	}}
	return tailoring.NewService(mem, lookup)
}

func TestService_Apply(t *testing.T) {
	tenantID := id.NewTenantID()

	t.Run("accept produces an unchanged effective entry", func(t *testing.T) {
		mem := store.NewInMemory()
		svc := newService(mem)
		baseline := seedBaseline(mem, tenantID)

		effective, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID: tenantID,
			EntryID:  baseline.ID,
			Type:     tailoring.DecisionAccept,
		})
		require.NoError(t, err)

		assert.NotEqual(t, baseline.ID, effective.ID)
		assert.Equal(t, baseline.ID, effective.BaselineID)
		assert.Equal(t, resolution.SourceTailoring, effective.Source)
		assert.Equal(t, resolution.EntryActive, effective.Status)
		assert.Equal(t, baseline.Aspects, effective.Aspects)
		assert.True(t, effective.Mandatory)

		superseded, err := mem.Entry(context.Background(), tenantID, baseline.ID)
		require.NoError(t, err)
		assert.Equal(t, resolution.EntrySuperseded, superseded.Status)
		assert.Equal(t, effective.ID, superseded.SupersededBy)
	})

	t.Run("modify overlays the changed aspects", func(t *testing.T) {
		mem := store.NewInMemory()
		svc := newService(mem)
		baseline := seedBaseline(mem, tenantID)

		effective, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID:        tenantID,
			EntryID:         baseline.ID,
			Type:            tailoring.DecisionModify,
			ModifiedAspects: map[string]string{"review": "quarterly"},
		})
		require.NoError(t, err)
		assert.Equal(t, "quarterly", effective.Aspects["review"])
		assert.Equal(t, "AES-256", effective.Aspects["encryption"], "untouched aspects carry over")
	})

	t.Run("modify without aspect changes is invalid", func(t *testing.T) {
		mem := store.NewInMemory()
		svc := newService(mem)
		baseline := seedBaseline(mem, tenantID)

		_, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID: tenantID,
			EntryID:  baseline.ID,
			Type:     tailoring.DecisionModify,
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("remove requires a justification and clears mandatory", func(t *testing.T) {
		mem := store.NewInMemory()
		svc := newService(mem)
		baseline := seedBaseline(mem, tenantID)

		_, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID: tenantID,
			EntryID:  baseline.ID,
			Type:     tailoring.DecisionRemove,
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		effective, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID:      tenantID,
			EntryID:       baseline.ID,
			Type:          tailoring.DecisionRemove,
			Justification: "control duplicated by group-level policy",
		})
		require.NoError(t, err)
		assert.Equal(t, resolution.EntryRemoved, effective.Status)
		assert.False(t, effective.Mandatory)
	})

	t.Run("compensate needs a resolvable substitute control", func(t *testing.T) {
		mem := store.NewInMemory()
		svc := newService(mem)
		baseline := seedBaseline(mem, tenantID)

		_, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID:            tenantID,
			EntryID:             baseline.ID,
			Type:                tailoring.DecisionCompensate,
			Justification:       "legacy system cannot implement the control",
			CompensatingControl: "NO-SUCH",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

		effective, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID:            tenantID,
			EntryID:             baseline.ID,
			Type:                tailoring.DecisionCompensate,
			Justification:       "legacy system cannot implement the control",
			CompensatingControl: "CMP-7",
		})
		require.NoError(t, err)
		assert.False(t, effective.Mandatory)
		assert.Equal(t, "CMP-7", effective.Aspects["compensating_control"])
	})

	t.Run("replaying an identical decision returns the existing entry", func(t *testing.T) {
		mem := store.NewInMemory()
		svc := newService(mem)
		baseline := seedBaseline(mem, tenantID)

		decision := tailoring.Decision{
			TenantID:        tenantID,
			EntryID:         baseline.ID,
			Type:            tailoring.DecisionModify,
			ModifiedAspects: map[string]string{"review": "quarterly"},
		}
		first, err := svc.Apply(approverContext(), decision)
		require.NoError(t, err)

		replay, err := svc.Apply(approverContext(), decision)
		require.NoError(t, err)
		assert.Equal(t, first.ID, replay.ID)

		history, err := svc.History(context.Background(), tenantID, baseline.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1, "replay records no second decision")
	})

	t.Run("a different decision on a superseded entry conflicts", func(t *testing.T) {
		mem := store.NewInMemory()
		svc := newService(mem)
		baseline := seedBaseline(mem, tenantID)

		_, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID: tenantID,
			EntryID:  baseline.ID,
			Type:     tailoring.DecisionAccept,
		})
		require.NoError(t, err)

		_, err = svc.Apply(approverContext(), tailoring.Decision{
			TenantID:        tenantID,
			EntryID:         baseline.ID,
			Type:            tailoring.DecisionModify,
			ModifiedAspects: map[string]string{"review": "monthly"},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
	})

	t.Run("unknown decision type is invalid", func(t *testing.T) {
		mem := store.NewInMemory()
		svc := newService(mem)
		baseline := seedBaseline(mem, tenantID)

		_, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID: tenantID,
			EntryID:  baseline.ID,
			Type:     "waive",
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("approver and timestamp come from the request context", func(t *testing.T) {
		mem := store.NewInMemory()
		svc := newService(mem)
		baseline := seedBaseline(mem, tenantID)

		_, err := svc.Apply(approverContext(), tailoring.Decision{
			TenantID: tenantID,
			EntryID:  baseline.ID,
			Type:     tailoring.DecisionAccept,
		})
		require.NoError(t, err)

		history, err := svc.History(context.Background(), tenantID, baseline.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "ciso@example.sa", history[0].Approver)
	})
}

func TestDecisionContentHash(t *testing.T) {
	base := tailoring.Decision{
		Type:            tailoring.DecisionModify,
		Justification:   "tighten review cadence",
		ModifiedAspects: map[string]string{"a": "1", "b": "2"},
	}

	t.Run("stable across map ordering", func(t *testing.T) {
		other := base
		other.ModifiedAspects = map[string]string{"b": "2", "a": "1"}
		assert.Equal(t, base.ContentHash(), other.ContentHash())
	})

	t.Run("whitespace around the justification is ignored", func(t *testing.T) {
		other := base
		other.Justification = "  tighten review cadence  "
		assert.Equal(t, base.ContentHash(), other.ContentHash())
	})

	t.Run("any content change alters the hash", func(t *testing.T) {
		other := base
		other.Type = tailoring.DecisionRemove
		assert.NotEqual(t, base.ContentHash(), other.ContentHash())

		other = base
		other.ModifiedAspects = map[string]string{"a": "1", "b": "3"}
		assert.NotEqual(t, base.ContentHash(), other.ContentHash())
	})
}
