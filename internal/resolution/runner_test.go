package resolution_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlplane/internal/resolution"
	id "controlplane/pkg/domain"
)

func TestRunner_RunAll(t *testing.T) {
	f := newFixture(t, bankingCatalog())
	ctx := runContext()

	var requests []resolution.RunRequest
	for i := 0; i < 5; i++ {
		tenantID := id.NewTenantID()
		wizardID := id.NewWizardID()
		appendAnswers(t, f, ctx, tenantID, wizardID, bankingAnswers)
		requests = append(requests, resolution.RunRequest{TenantID: tenantID, WizardID: wizardID})
	}
	// One tenant with no snapshot; its failure must not sink the batch.
	failing := resolution.RunRequest{TenantID: id.NewTenantID(), WizardID: id.NewWizardID()}
	requests = append(requests, failing)

	runner := resolution.NewRunner(f.service, 3)
	outcomes, err := runner.RunAll(ctx, requests)
	require.NoError(t, err)
	require.Len(t, outcomes, len(requests))

	for i, outcome := range outcomes[:5] {
		assert.Equal(t, requests[i], outcome.Request, "outcomes keep request order")
		require.NoError(t, outcome.Err)
		assert.Equal(t, 3, outcome.Summary.ControlsResolved)
	}
	assert.Error(t, outcomes[5].Err)
}

func TestRunner_SameTenantRunsSerialize(t *testing.T) {
	f := newFixture(t, bankingCatalog())
	ctx := runContext()

	tenantID := id.NewTenantID()
	wizardID := id.NewWizardID()
	appendAnswers(t, f, ctx, tenantID, wizardID, bankingAnswers)

	requests := []resolution.RunRequest{
		{TenantID: tenantID, WizardID: wizardID},
		{TenantID: tenantID, WizardID: wizardID},
		{TenantID: tenantID, WizardID: wizardID},
	}

	runner := resolution.NewRunner(f.service, 3)
	outcomes, err := runner.RunAll(ctx, requests)
	require.NoError(t, err)

	runIDs := map[id.RunID]bool{}
	for _, outcome := range outcomes {
		require.NoError(t, outcome.Err)
		runIDs[outcome.Summary.RunID] = true
	}
	assert.Len(t, runIDs, 3, "each run materializes its own control set")

	runs, err := f.store.Runs(ctx, tenantID)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestDecodeAnswers(t *testing.T) {
	t.Run("rejects payloads without sector or country", func(t *testing.T) {
		_, err := resolution.DecodeAnswers(json.RawMessage(`{"sector":"banking"}`))
		assert.Error(t, err)

		_, err = resolution.DecodeAnswers(json.RawMessage(`{"country":"SA"}`))
		assert.Error(t, err)
	})

	t.Run("projects derived classifications into the context", func(t *testing.T) {
		answers, err := resolution.DecodeAnswers(json.RawMessage(
			`{"sector":"healthcare","country":"SA","dataTypes":["PHI"],"cloudProviders":["aws"]}`))
		require.NoError(t, err)

		evalCtx := resolution.BuildContext(answers)
		phi, ok := evalCtx.Lookup("processesPHI")
		require.True(t, ok)
		assert.True(t, phi.Bool)

		cloud, ok := evalCtx.Lookup("usesCloud")
		require.True(t, ok)
		assert.True(t, cloud.Bool)

		pii, ok := evalCtx.Lookup("processesPII")
		require.True(t, ok)
		assert.False(t, pii.Bool)
	})
}
