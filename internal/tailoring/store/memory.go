package store

import (
	"context"
	"sort"
	"sync"

	"controlplane/internal/resolution"
	"controlplane/internal/tailoring"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
)

// InMemory is a tailoring store for tests. It owns its own entry map so
// tests can seed baseline entries without a resolution store.
type InMemory struct {
	mu        sync.RWMutex
	entries   map[id.EntryID]resolution.ControlSetEntry
	decisions map[id.DecisionID]tailoring.Decision
	// effective maps a decision to the entry it produced.
	effective map[id.DecisionID]id.EntryID
}

// NewInMemory constructs an empty in-memory tailoring store.
func NewInMemory() *InMemory {
	return &InMemory{
		entries:   make(map[id.EntryID]resolution.ControlSetEntry),
		decisions: make(map[id.DecisionID]tailoring.Decision),
		effective: make(map[id.DecisionID]id.EntryID),
	}
}

// SeedEntry inserts a baseline control set entry for tests.
func (s *InMemory) SeedEntry(entry resolution.ControlSetEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
}

func (s *InMemory) Apply(ctx context.Context, decision tailoring.Decision, effective resolution.ControlSetEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	baseline, ok := s.entries[decision.EntryID]
	if !ok || baseline.TenantID != decision.TenantID {
		return dErrors.New(dErrors.CodeNotFound, "entry not found")
	}
	if baseline.Status != resolution.EntryActive {
		return dErrors.New(dErrors.CodeConflict, "entry is already superseded")
	}
	for _, d := range s.decisions {
		if d.EntryID == decision.EntryID && d.Hash == decision.Hash {
			return dErrors.New(dErrors.CodeConflict, "decision already applied")
		}
	}

	baseline.Status = resolution.EntrySuperseded
	baseline.SupersededBy = effective.ID
	s.entries[baseline.ID] = baseline
	s.entries[effective.ID] = effective
	s.decisions[decision.ID] = decision
	s.effective[decision.ID] = effective.ID
	return nil
}

func (s *InMemory) ByHash(ctx context.Context, tenantID id.TenantID, entryID id.EntryID, hash string) (tailoring.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.decisions {
		if d.TenantID == tenantID && d.EntryID == entryID && d.Hash == hash {
			return d, nil
		}
	}
	return tailoring.Decision{}, dErrors.New(dErrors.CodeNotFound, "decision not found")
}

func (s *InMemory) Entry(ctx context.Context, tenantID id.TenantID, entryID id.EntryID) (resolution.ControlSetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[entryID]
	if !ok || entry.TenantID != tenantID {
		return resolution.ControlSetEntry{}, dErrors.New(dErrors.CodeNotFound, "entry not found")
	}
	return entry, nil
}

func (s *InMemory) EffectiveEntry(ctx context.Context, tenantID id.TenantID, decisionID id.DecisionID) (resolution.ControlSetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entryID, ok := s.effective[decisionID]
	if !ok {
		return resolution.ControlSetEntry{}, dErrors.New(dErrors.CodeNotFound, "no effective entry for decision")
	}
	entry := s.entries[entryID]
	if entry.TenantID != tenantID {
		return resolution.ControlSetEntry{}, dErrors.New(dErrors.CodeNotFound, "no effective entry for decision")
	}
	return entry, nil
}

func (s *InMemory) Decisions(ctx context.Context, tenantID id.TenantID, entryID id.EntryID) ([]tailoring.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []tailoring.Decision
	for _, d := range s.decisions {
		if d.TenantID == tenantID && d.EntryID == entryID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DecidedAt.Before(out[j].DecidedAt) })
	return out, nil
}
