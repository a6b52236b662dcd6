package store

import (
	"context"
	"sort"
	"sync"

	"controlplane/internal/snapshot"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
)

// InMemory is a snapshot store for tests. Semantics match the Postgres store,
// including the (wizard_id, version) uniqueness conflict.
type InMemory struct {
	mu sync.RWMutex
	// byWizard holds version-ascending snapshot slices keyed by tenant+wizard.
	byWizard map[wizardKey][]snapshot.AnswerSnapshot
}

type wizardKey struct {
	tenantID id.TenantID
	wizardID id.WizardID
}

// NewInMemory constructs an empty in-memory snapshot store.
func NewInMemory() *InMemory {
	return &InMemory{byWizard: make(map[wizardKey][]snapshot.AnswerSnapshot)}
}

func (s *InMemory) Create(ctx context.Context, snap snapshot.AnswerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := wizardKey{tenantID: snap.TenantID, wizardID: snap.WizardID}
	for _, existing := range s.byWizard[key] {
		if existing.Version == snap.Version {
			return dErrors.Newf(dErrors.CodeConflict, "snapshot version %d already exists", snap.Version)
		}
	}
	s.byWizard[key] = append(s.byWizard[key], snap)
	sort.Slice(s.byWizard[key], func(i, j int) bool {
		return s.byWizard[key][i].Version < s.byWizard[key][j].Version
	})
	return nil
}

func (s *InMemory) Latest(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) (snapshot.AnswerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.byWizard[wizardKey{tenantID: tenantID, wizardID: wizardID}]
	if len(history) == 0 {
		return snapshot.AnswerSnapshot{}, dErrors.New(dErrors.CodeNotFound, "no snapshots for wizard")
	}
	return history[len(history)-1], nil
}

func (s *InMemory) ByVersion(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID, version int) (snapshot.AnswerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.byWizard[wizardKey{tenantID: tenantID, wizardID: wizardID}] {
		if snap.Version == version {
			return snap, nil
		}
	}
	return snapshot.AnswerSnapshot{}, dErrors.Newf(dErrors.CodeNotFound, "snapshot version %d not found", version)
}

func (s *InMemory) History(ctx context.Context, tenantID id.TenantID, wizardID id.WizardID) ([]snapshot.AnswerSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.byWizard[wizardKey{tenantID: tenantID, wizardID: wizardID}]
	out := make([]snapshot.AnswerSnapshot, len(history))
	copy(out, history)
	return out, nil
}
