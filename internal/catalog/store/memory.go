package store

import (
	"context"
	"sync"

	"controlplane/internal/catalog"
	"controlplane/internal/inheritance"
	"controlplane/internal/overlay"
	"controlplane/internal/rules"
)

// InMemory keeps the catalog in process. Used by unit tests and as the seed
// store for local development.
type InMemory struct {
	mu       sync.RWMutex
	snapshot catalog.Snapshot
}

// NewInMemory constructs an empty in-memory catalog store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

// NewInMemoryWith seeds the store from a snapshot.
func NewInMemoryWith(snapshot catalog.Snapshot) *InMemory {
	return &InMemory{snapshot: snapshot}
}

func (s *InMemory) Load(ctx context.Context) (catalog.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, nil
}

func (s *InMemory) SaveControl(ctx context.Context, control catalog.Control) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Controls = append(s.snapshot.Controls, control)
	return nil
}

func (s *InMemory) SaveEdge(ctx context.Context, edge inheritance.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Edges = append(s.snapshot.Edges, edge)
	return nil
}

func (s *InMemory) SaveRule(ctx context.Context, rule rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.RuleSet.Rules = append(s.snapshot.RuleSet.Rules, rule)
	return nil
}

func (s *InMemory) SaveMapping(ctx context.Context, mapping catalog.ControlMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Mappings = append(s.snapshot.Mappings, mapping)
	return nil
}

// SaveFramework registers a framework; only the memory store needs this
// helper because Postgres catalogs are seeded by migration.
func (s *InMemory) SaveFramework(ctx context.Context, framework catalog.Framework) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Frameworks = append(s.snapshot.Frameworks, framework)
	return nil
}

// SaveOverlay registers an overlay bundle.
func (s *InMemory) SaveOverlay(ctx context.Context, o overlay.Overlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Overlays = append(s.snapshot.Overlays, o)
	return nil
}
