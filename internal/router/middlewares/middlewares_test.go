package middlewares

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	t.Parallel()

	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusTeapot, rr.Code)
	require.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))

	// Preflight requests are answered without reaching the handler.
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("OPTIONS", "/", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestTraceID(t *testing.T) {
	t.Parallel()

	var logged string
	handler := TraceID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		reqLogger := log.Ctx(r.Context()).Output(&buf)
		reqLogger.Info().Msg("ping")
		logged = buf.String()
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	traceID := rr.Header().Get("Trace-ID")
	require.Len(t, traceID, 36)

	// The same id flows through the request's logger context.
	require.Contains(t, logged, traceID)
}

func TestWithLoggingPassesStatusThrough(t *testing.T) {
	t.Parallel()

	handler := WithLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/swaps", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	// Handlers that never write a header still answer 200.
	handler = WithLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/swaps", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
