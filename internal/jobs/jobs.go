// Package jobs runs long-lived tasks in-process and tracks their status by
// id, so HTTP handlers can kick off work and poll it later.
package jobs

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
)

// Status is the lifecycle state of an enqueued job.
type Status string

// Statuses a job moves through. There's no cancellation state: jobs only
// stop through their context.
const (
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Engine tracks running jobs. Job statuses are kept in memory and don't
// survive a restart.
type Engine struct {
	log     zerolog.Logger
	baseCtx context.Context

	mu       sync.Mutex
	statuses map[string]Status
}

// NewEngine returns an engine whose jobs inherit baseCtx, so canceling it
// stops every running job.
func NewEngine(baseCtx context.Context) *Engine {
	return &Engine{
		log:      logger.With().Str("component", "jobs").Logger(),
		baseCtx:  baseCtx,
		statuses: map[string]Status{},
	}
}

// Enqueue starts fn in the background and returns the id to poll its status
// with.
func (e *Engine) Enqueue(fn func(ctx context.Context) error) string {
	id := uuid.NewString()
	e.mu.Lock()
	e.statuses[id] = StatusPending
	e.mu.Unlock()

	go func() {
		status := StatusCompleted
		if err := fn(e.baseCtx); err != nil {
			e.log.Error().Err(err).Str("job_id", id).Msg("job failed")
			status = StatusFailed
		}
		e.mu.Lock()
		e.statuses[id] = status
		e.mu.Unlock()
	}()
	return id
}

// Status returns the job's current status, or false for unknown ids.
func (e *Engine) Status(id string) (Status, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	status, ok := e.statuses[id]
	return status, ok
}
