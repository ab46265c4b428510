// Package git runs the git CLI against task workspaces.
package git

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many git processes run at once across goroutines.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool that allows at most limit concurrent git processes.
// Limits below 1 are raised to 1.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run waits for a free slot, runs fn, then frees the slot.
// It returns ctx.Err() if ctx ends while waiting. A nil Pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
