package resolution

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	id "controlplane/pkg/domain"
)

// RunRequest names one tenant/wizard pair to resolve.
type RunRequest struct {
	TenantID id.TenantID
	WizardID id.WizardID
}

// RunOutcome pairs a request with its result.
type RunOutcome struct {
	Request RunRequest
	Summary Summary
	Err     error
}

// Runner resolves many tenants concurrently. Cross-tenant runs are
// independent; same-tenant serialization comes from the service's locker,
// not from the runner.
type Runner struct {
	service *Service
	limit   int
}

// NewRunner constructs a Runner with a concurrency limit.
func NewRunner(service *Service, limit int) *Runner {
	if limit <= 0 {
		limit = 4
	}
	return &Runner{service: service, limit: limit}
}

// RunAll executes all requests and returns one outcome per request, in
// request order. Individual run failures are reported in the outcome, not
// returned; the only error RunAll itself returns is context cancellation.
func (r *Runner) RunAll(ctx context.Context, requests []RunRequest) ([]RunOutcome, error) {
	outcomes := make([]RunOutcome, len(requests))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.limit)
	for i, req := range requests {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			summary, err := r.service.RunResolution(gctx, req.TenantID, req.WizardID)
			mu.Lock()
			outcomes[i] = RunOutcome{Request: req, Summary: summary, Err: err}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
