package store

import (
	"context"
	"sort"
	"sync"

	"controlplane/internal/resolution"
	id "controlplane/pkg/domain"
	dErrors "controlplane/pkg/errors"
)

// InMemory is a resolution store for tests. InTx provides no isolation; the
// orchestrator's per-tenant lock already serializes writers within a tenant.
type InMemory struct {
	mu      sync.RWMutex
	runs    map[id.RunID]resolution.Run
	entries map[id.RunID][]resolution.ControlSetEntry
	logs    map[id.RunID]resolution.EvaluationLog
}

// NewInMemory constructs an empty in-memory resolution store.
func NewInMemory() *InMemory {
	return &InMemory{
		runs:    make(map[id.RunID]resolution.Run),
		entries: make(map[id.RunID][]resolution.ControlSetEntry),
		logs:    make(map[id.RunID]resolution.EvaluationLog),
	}
}

func (s *InMemory) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *InMemory) CreateRun(ctx context.Context, run resolution.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return dErrors.New(dErrors.CodeConflict, "run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

func (s *InMemory) SaveRun(ctx context.Context, run resolution.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return dErrors.New(dErrors.CodeNotFound, "run not found")
	}
	s.runs[run.ID] = run
	return nil
}

func (s *InMemory) Run(ctx context.Context, tenantID id.TenantID, runID id.RunID) (resolution.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok || run.TenantID != tenantID {
		return resolution.Run{}, dErrors.New(dErrors.CodeNotFound, "run not found")
	}
	return run, nil
}

func (s *InMemory) Runs(ctx context.Context, tenantID id.TenantID) ([]resolution.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []resolution.Run
	for _, run := range s.runs {
		if run.TenantID == tenantID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *InMemory) SaveEntries(ctx context.Context, entries []resolution.ControlSetEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		s.entries[entry.RunID] = append(s.entries[entry.RunID], entry)
	}
	return nil
}

func (s *InMemory) Entries(ctx context.Context, tenantID id.TenantID, runID id.RunID) ([]resolution.ControlSetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []resolution.ControlSetEntry
	for _, entry := range s.entries[runID] {
		if entry.TenantID == tenantID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *InMemory) SaveEvaluationLog(ctx context.Context, log resolution.EvaluationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.logs[log.RunID]; exists {
		return dErrors.New(dErrors.CodeConflict, "evaluation log already written")
	}
	s.logs[log.RunID] = log
	return nil
}

func (s *InMemory) EvaluationLog(ctx context.Context, tenantID id.TenantID, runID id.RunID) (resolution.EvaluationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[runID]
	if !ok || log.TenantID != tenantID {
		return resolution.EvaluationLog{}, dErrors.New(dErrors.CodeNotFound, "evaluation log not found")
	}
	return log, nil
}
