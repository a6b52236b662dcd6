package store

import (
	"context"
	"sort"
	"sync"

	"controlplane/internal/explain"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
)

// InMemory is an explain store for tests.
type InMemory struct {
	mu       sync.RWMutex
	payloads map[id.PayloadID]explain.Payload
}

// NewInMemory constructs an empty in-memory explain store.
func NewInMemory() *InMemory {
	return &InMemory{payloads: make(map[id.PayloadID]explain.Payload)}
}

func (s *InMemory) Create(ctx context.Context, p explain.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.payloads[p.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "payload already exists")
	}
	s.payloads[p.ID] = p
	return nil
}

func (s *InMemory) Get(ctx context.Context, tenantID id.TenantID, payloadID id.PayloadID) (explain.Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payloads[payloadID]
	if !ok || p.TenantID != tenantID {
		return explain.Payload{}, dErrors.New(dErrors.CodeNotFound, "payload not found")
	}
	return p, nil
}

func (s *InMemory) SetOverride(ctx context.Context, tenantID id.TenantID, payloadID id.PayloadID, ov explain.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payloads[payloadID]
	if !ok || p.TenantID != tenantID {
		return dErrors.New(dErrors.CodeNotFound, "payload not found")
	}
	if p.Override != nil {
		return dErrors.New(dErrors.CodeConflict, "override slot already occupied")
	}
	p.Override = &ov
	s.payloads[payloadID] = p
	return nil
}

func (s *InMemory) ListByRun(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]explain.Payload, error) {
	return s.list(tenantID, func(p explain.Payload) bool { return p.RunID == runID })
}

func (s *InMemory) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]explain.Payload, error) {
	return s.list(tenantID, func(explain.Payload) bool { return true })
}

func (s *InMemory) list(tenantID id.TenantID, keep func(explain.Payload) bool) ([]explain.Payload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []explain.Payload
	for _, p := range s.payloads {
		if p.TenantID == tenantID && keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GeneratedAt.Equal(out[j].GeneratedAt) {
			return out[i].GeneratedAt.Before(out[j].GeneratedAt)
		}
		return out[i].SubjectCode < out[j].SubjectCode
	})
	return out, nil
}
