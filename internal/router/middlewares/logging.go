package middlewares

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// WithLogging emits one line per request with its outcome and latency, on the
// request logger so the trace id is carried along.
func WithLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(srw, r)

		evt := log.Ctx(r.Context()).Info()
		if srw.statusCode >= http.StatusBadRequest {
			evt = log.Ctx(r.Context()).Warn()
		}
		evt.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("statusCode", srw.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

// statusRecorder remembers the status code written downstream. Handlers that
// never call WriteHeader implicitly answer 200.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
