package resolution

import (
	"context"

	id "controlplane/pkg/domain"
)

//go:generate mockgen -source=ports.go -destination=mocks/referencesource_mock.go -package=mocks

// CategoryOption is one allowed value for an answer category.
type CategoryOption struct {
	Code   string
	Name   string
	Active bool
}

// ReferenceSource supplies answer and lookup data from the onboarding side.
// It is a read-only port: category options constrain what an answer may say,
// never what the engine decides.
type ReferenceSource interface {
	// GetLatestAnswers returns the current raw answers for a wizard, used
	// when a run is requested without a pinned snapshot version.
	GetLatestAnswers(ctx context.Context, wizardID id.WizardID) (map[string]any, error)

	// GetCategoryOptions returns the allowed values for a category such as
	// "sector" or "country". An empty slice means the category is
	// unconstrained.
	GetCategoryOptions(ctx context.Context, category string) ([]CategoryOption, error)
}
