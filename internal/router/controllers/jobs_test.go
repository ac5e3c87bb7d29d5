package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/chainscribe/chainscribe/internal/jobs"
)

func jobsRouter(t *testing.T, backfill BackfillFunc) (*mux.Router, *jobs.Engine) {
	t.Helper()
	engine := jobs.NewEngine(context.Background())
	controller := NewJobsController(engine, backfill)

	router := mux.NewRouter()
	router.HandleFunc("/record_historical_events", controller.RecordHistoricalEvents)
	router.HandleFunc("/get_status/{taskId}", controller.GetStatus)
	return router, engine
}

func TestRecordHistoricalEvents(t *testing.T) {
	t.Parallel()

	ran := make(chan struct{})
	router, _ := jobsRouter(t, func(_ context.Context, eventID, contractAddress string, fromBlock, toBlock int64) error {
		require.Equal(t, "uniswap-v3-pool-swap", eventID)
		require.Equal(t, "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8", contractAddress)
		require.Equal(t, int64(12000000), fromBlock)
		require.Equal(t, int64(12000100), toBlock)
		close(ran)
		return nil
	})

	body := `{
		"event_id": "uniswap-v3-pool-swap",
		"contract_address": "0x8ad599c3a0ff1de082011efddc58f1908eb6e6d8",
		"from_block": 12000000,
		"to_block": 12000100
	}`
	req, err := http.NewRequest("POST", "/record_historical_events", strings.NewReader(body))
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)
	require.Equal(t, "Pending", resp.Status)

	select {
	case <-ran:
	case <-time.After(time.Second * 5):
		t.Fatal("backfill job never ran")
	}

	// Poll until the job reports completion.
	require.Eventually(t, func() bool {
		req, err := http.NewRequest("GET", "/get_status/"+resp.TaskID, nil)
		require.NoError(t, err)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
		return strings.Contains(rr.Body.String(), "Completed")
	}, time.Second*5, time.Millisecond*10)
}

func TestRecordHistoricalEventsValidation(t *testing.T) {
	t.Parallel()

	router, _ := jobsRouter(t, func(context.Context, string, string, int64, int64) error {
		t.Fatal("job must not run")
		return nil
	})

	bodies := []string{
		`not json`,
		`{"contract_address":"0xabc","from_block":1,"to_block":2}`,
		`{"event_id":"uniswap-v3-pool-swap","from_block":1,"to_block":2}`,
		`{"event_id":"uniswap-v3-pool-swap","contract_address":"0xabc","to_block":2}`,
		`{"event_id":"uniswap-v3-pool-swap","contract_address":"0xabc","from_block":1}`,
		`{"event_id":"uniswap-v3-pool-swap","contract_address":"0xabc","from_block":-1,"to_block":2}`,
		`{"event_id":"uniswap-v3-pool-swap","contract_address":"0xabc","from_block":5,"to_block":2}`,
	}
	for i, body := range bodies {
		req, err := http.NewRequest("POST", "/record_historical_events", strings.NewReader(body))
		require.NoError(t, err)

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusBadRequest, rr.Code, fmt.Sprintf("body %d", i))
	}
}

func TestGetStatusUnknownTask(t *testing.T) {
	t.Parallel()

	router, _ := jobsRouter(t, nil)
	req, err := http.NewRequest("GET", "/get_status/00000000-0000-0000-0000-000000000000", nil)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}
