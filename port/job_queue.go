package port

import (
	"context"

	"search-sync/domain"
)

// JobQueue submits units of work to the worker pool.
type JobQueue interface {
	Enqueue(ctx context.Context, job domain.Job) error
	// SubmitChain enqueues steps that run strictly in order, halting on terminal failure.
	SubmitChain(ctx context.Context, chain domain.Chain) error
}
