// Package adapters implements the resolution ports against in-process
// services, keeping the orchestrator decoupled from where its inputs live.
package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"controlplane/internal/resolution"
	"controlplane/internal/snapshot"
	id "controlplane/pkg/domain"
	"controlplane/pkg/requestcontext"
)

// SnapshotReference implements resolution.ReferenceSource on top of the
// snapshot service plus a static category table. Tenant scoping comes from
// the request context, same as the services.
type SnapshotReference struct {
	snapshots  *snapshot.Service
	categories map[string][]resolution.CategoryOption
}

// NewSnapshotReference creates a reference source with the default category
// tables. Custom tables replace the defaults wholesale.
func NewSnapshotReference(snapshots *snapshot.Service, categories map[string][]resolution.CategoryOption) *SnapshotReference {
	if categories == nil {
		categories = defaultCategories()
	}
	return &SnapshotReference{snapshots: snapshots, categories: categories}
}

// GetLatestAnswers returns the latest snapshot's raw answers for a wizard.
func (a *SnapshotReference) GetLatestAnswers(ctx context.Context, wizardID id.WizardID) (map[string]any, error) {
	tenantID := requestcontext.TenantID(ctx)
	snap, err := a.snapshots.Latest(ctx, tenantID, wizardID)
	if err != nil {
		return nil, err
	}
	var answers map[string]any
	if err := json.Unmarshal(snap.Answers, &answers); err != nil {
		return nil, fmt.Errorf("decode snapshot answers: %w", err)
	}
	return answers, nil
}

// GetCategoryOptions returns the allowed values for a category. Unknown
// categories return an empty slice, which the engine treats as
// unconstrained.
func (a *SnapshotReference) GetCategoryOptions(ctx context.Context, category string) ([]resolution.CategoryOption, error) {
	return a.categories[category], nil
}

func defaultCategories() map[string][]resolution.CategoryOption {
	return map[string][]resolution.CategoryOption{
		"sector": {
			{Code: "banking", Name: "Banking", Active: true},
			{Code: "insurance", Name: "Insurance", Active: true},
			{Code: "healthcare", Name: "Healthcare", Active: true},
			{Code: "government", Name: "Government", Active: true},
			{Code: "telecom", Name: "Telecommunications", Active: true},
			{Code: "energy", Name: "Energy", Active: true},
			{Code: "retail", Name: "Retail", Active: true},
			{Code: "technology", Name: "Technology", Active: true},
		},
		"country": {
			{Code: "SA", Name: "Saudi Arabia", Active: true},
			{Code: "AE", Name: "United Arab Emirates", Active: true},
			{Code: "BH", Name: "Bahrain", Active: true},
			{Code: "KW", Name: "Kuwait", Active: true},
			{Code: "QA", Name: "Qatar", Active: true},
			{Code: "OM", Name: "Oman", Active: true},
			{Code: "EG", Name: "Egypt", Active: true},
			{Code: "JO", Name: "Jordan", Active: true},
		},
	}
}
