package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlplane/internal/rules"
)

func boolPtr(b bool) *bool { return &b }

func baselineFixture() []Requirement {
	return []Requirement{
		{
			ControlCode:   "AC-1",
			FrameworkCode: "NCA-ECC",
			Aspects:       map[string]string{"encryption": "AES-128", "review": "annual"},
			Mandatory:     true,
			Source:        "baseline",
		},
		{
			ControlCode:   "AC-2",
			FrameworkCode: "NCA-ECC",
			Aspects:       map[string]string{"logging": "enabled"},
			Source:        "baseline",
		},
	}
}

func piiContext() rules.Context {
	return rules.NewContext(map[string]rules.Value{
		"processesPII": rules.Bool(true),
		"sector":       rules.String("banking"),
	})
}

func TestApply(t *testing.T) {
	piiOverlay := Overlay{
		Code:    "PII-Extra",
		Name:    "PII Handling",
		Type:    TypeDataType,
		Trigger: rules.Condition{Field: "processesPII", Operator: rules.OpIsTrue},
		Active:  true,
		Deltas: []ControlDelta{
			{ControlCode: "PII-9", Add: true, Aspects: map[string]string{"retention": "90d"}, Mandatory: boolPtr(true)},
			{ControlCode: "AC-1", Aspects: map[string]string{"encryption": "AES-256"}},
		},
		Reason: "tenant processes personal data",
	}

	t.Run("firing overlay adds and modifies", func(t *testing.T) {
		result := Apply(baselineFixture(), []Overlay{piiOverlay}, piiContext(), MergeFieldGranularity)

		require.Len(t, result.Merged, 3, "one addition on top of the baseline")
		require.Len(t, result.Applied, 1)

		applied := result.Applied[0]
		assert.Equal(t, []string{"PII-9"}, applied.AddedCodes)
		assert.Equal(t, []string{"AC-1"}, applied.ModifiedCodes)
		assert.Equal(t, "processesPII isTrue", applied.TriggerText)
		assert.Contains(t, applied.MatchedFields, "processesPII")

		assert.Equal(t, "AES-256", result.Merged[0].Aspects["encryption"])
		assert.Equal(t, "annual", result.Merged[0].Aspects["review"], "untouched fields survive field merge")

		added := result.Merged[2]
		assert.Equal(t, "PII-9", added.ControlCode)
		assert.Equal(t, "overlay", added.Source)
		assert.Equal(t, "PII-Extra", added.SourceCode)
		assert.True(t, added.Mandatory)
	})

	t.Run("whole record policy replaces the aspect map", func(t *testing.T) {
		result := Apply(baselineFixture(), []Overlay{piiOverlay}, piiContext(), MergeWholeRecord)

		modified := result.Merged[0]
		assert.Equal(t, "AES-256", modified.Aspects["encryption"])
		_, reviewSurvives := modified.Aspects["review"]
		assert.False(t, reviewSurvives, "record merge discards unset baseline fields")
	})

	t.Run("empty aspect values never erase baseline fields under field merge", func(t *testing.T) {
		blanking := piiOverlay
		blanking.Deltas = []ControlDelta{
			{ControlCode: "AC-1", Aspects: map[string]string{"review": ""}},
		}
		result := Apply(baselineFixture(), []Overlay{blanking}, piiContext(), MergeFieldGranularity)
		assert.Equal(t, "annual", result.Merged[0].Aspects["review"])
	})

	t.Run("non-firing overlay is skipped", func(t *testing.T) {
		noPII := rules.NewContext(map[string]rules.Value{"processesPII": rules.Bool(false)})
		result := Apply(baselineFixture(), []Overlay{piiOverlay}, noPII, MergeFieldGranularity)

		assert.Len(t, result.Merged, 2)
		assert.Empty(t, result.Applied)
		assert.Equal(t, "AES-128", result.Merged[0].Aspects["encryption"])
	})

	t.Run("inactive overlay never fires", func(t *testing.T) {
		inactive := piiOverlay
		inactive.Active = false
		result := Apply(baselineFixture(), []Overlay{inactive}, piiContext(), MergeFieldGranularity)
		assert.Empty(t, result.Applied)
	})

	t.Run("forced overlay applies despite a false trigger", func(t *testing.T) {
		noPII := rules.NewContext(map[string]rules.Value{"processesPII": rules.Bool(false)})
		result := Apply(baselineFixture(), []Overlay{piiOverlay}, noPII, MergeFieldGranularity, "PII-Extra")

		require.Len(t, result.Applied, 1)
		assert.Len(t, result.Merged, 3)
	})

	t.Run("forced overlay applies when its trigger field is absent", func(t *testing.T) {
		empty := rules.NewContext(nil)
		result := Apply(baselineFixture(), []Overlay{piiOverlay}, empty, MergeFieldGranularity, "PII-Extra")
		require.Len(t, result.Applied, 1)
	})

	t.Run("modifying delta for an unknown code becomes an addition", func(t *testing.T) {
		orphan := piiOverlay
		orphan.Deltas = []ControlDelta{
			{ControlCode: "MISSING-1", Aspects: map[string]string{"x": "y"}},
		}
		result := Apply(baselineFixture(), []Overlay{orphan}, piiContext(), MergeFieldGranularity)

		require.Len(t, result.Merged, 3)
		assert.Equal(t, []string{"MISSING-1"}, result.Applied[0].AddedCodes)
		assert.Empty(t, result.Applied[0].ModifiedCodes)
	})

	t.Run("later overlay wins conflicting fields", func(t *testing.T) {
		first := Overlay{
			Code:     "A-FIRST",
			Type:     TypeSector,
			Trigger:  rules.Condition{Field: "sector", Operator: rules.OpEquals, Value: "banking"},
			Priority: 1,
			Active:   true,
			Deltas:   []ControlDelta{{ControlCode: "AC-1", Aspects: map[string]string{"encryption": "AES-192"}}},
		}
		second := Overlay{
			Code:     "B-SECOND",
			Type:     TypeDataType,
			Trigger:  rules.Condition{Field: "processesPII", Operator: rules.OpIsTrue},
			Priority: 2,
			Active:   true,
			Deltas:   []ControlDelta{{ControlCode: "AC-1", Aspects: map[string]string{"encryption": "AES-256"}}},
		}

		result := Apply(baselineFixture(), []Overlay{second, first}, piiContext(), MergeFieldGranularity)

		require.Len(t, result.Applied, 2)
		assert.Equal(t, "A-FIRST", result.Applied[0].Overlay.Code)
		assert.Equal(t, "AES-256", result.Merged[0].Aspects["encryption"])
	})

	t.Run("baseline slice is never mutated", func(t *testing.T) {
		baseline := baselineFixture()
		Apply(baseline, []Overlay{piiOverlay}, piiContext(), MergeFieldGranularity)
		assert.Equal(t, "AES-128", baseline[0].Aspects["encryption"])
	})

	t.Run("conservation across many overlays", func(t *testing.T) {
		overlays := []Overlay{piiOverlay, {
			Code:    "SECTOR-BANK",
			Type:    TypeSector,
			Trigger: rules.Condition{Field: "sector", Operator: rules.OpEquals, Value: "banking"},
			Active:  true,
			Deltas: []ControlDelta{
				{ControlCode: "BNK-1", Add: true},
				{ControlCode: "BNK-2", Add: true},
			},
		}}
		result := Apply(baselineFixture(), overlays, piiContext(), MergeFieldGranularity)
		assert.Len(t, result.Merged, len(baselineFixture())+3)
	})
}
