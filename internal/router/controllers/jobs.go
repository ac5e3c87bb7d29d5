package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/chainscribe/chainscribe/internal/jobs"
	"github.com/chainscribe/chainscribe/pkg/errors"
)

// BackfillFunc records the historical logs of one contract's event over a
// block range.
type BackfillFunc func(ctx context.Context, eventID, contractAddress string, fromBlock, toBlock int64) error

// JobsController defines the HTTP handlers for launching and polling
// backfill jobs.
type JobsController struct {
	engine   *jobs.Engine
	backfill BackfillFunc
}

// NewJobsController creates a new JobsController.
func NewJobsController(engine *jobs.Engine, backfill BackfillFunc) *JobsController {
	return &JobsController{engine: engine, backfill: backfill}
}

type recordHistoricalEventsRequest struct {
	EventID         string `json:"event_id"`
	ContractAddress string `json:"contract_address"`
	FromBlock       *int64 `json:"from_block"`
	ToBlock         *int64 `json:"to_block"`
}

type jobStatusResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// RecordHistoricalEvents handles the POST /record_historical_events call. It
// enqueues a backfill job and returns the id to poll it with.
func (c *JobsController) RecordHistoricalEvents(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	ctx := r.Context()

	var req recordHistoricalEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Malformed request body"})
		return
	}
	if req.EventID == "" || req.ContractAddress == "" {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{
			Message: "event_id and contract_address must be provided",
		})
		return
	}
	if req.FromBlock == nil || req.ToBlock == nil || *req.FromBlock < 0 || *req.ToBlock < 0 {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{
			Message: "from_block and to_block must be non-negative block numbers",
		})
		return
	}
	if *req.FromBlock > *req.ToBlock {
		rw.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Inverted block range"})
		return
	}

	eventID, contractAddress := req.EventID, req.ContractAddress
	fromBlock, toBlock := *req.FromBlock, *req.ToBlock
	taskID := c.engine.Enqueue(func(ctx context.Context) error {
		return c.backfill(ctx, eventID, contractAddress, fromBlock, toBlock)
	})
	log.Ctx(ctx).Info().
		Str("task_id", taskID).
		Str("event_id", eventID).
		Int64("from_block", fromBlock).
		Int64("to_block", toBlock).
		Msg("backfill job enqueued")

	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(jobStatusResponse{TaskID: taskID, Status: string(jobs.StatusPending)})
}

// GetStatus handles the GET /get_status/{taskId} call.
func (c *JobsController) GetStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")

	taskID := mux.Vars(r)["taskId"]
	status, ok := c.engine.Status(taskID)
	if !ok {
		rw.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(rw).Encode(errors.ServiceError{Message: "Unknown task id"})
		return
	}

	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(jobStatusResponse{TaskID: taskID, Status: string(status)})
}
