package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/chainscribe/chainscribe/internal/gateway"
	"github.com/chainscribe/chainscribe/internal/jobs"
	"github.com/chainscribe/chainscribe/internal/router/controllers"
	"github.com/chainscribe/chainscribe/internal/router/middlewares"
)

// ConfiguredRouter returns a fully configured Router that can be used as an http handler.
func ConfiguredRouter(
	maxRPI uint64,
	rateLimInterval time.Duration,
	recordsGateway *gateway.Gateway,
	jobsEngine *jobs.Engine,
	backfill controllers.BackfillFunc,
) (*Router, error) {
	recordsController := controllers.NewRecordsController(recordsGateway)
	jobsController := controllers.NewJobsController(jobsEngine, backfill)
	infraController := controllers.NewInfraController()

	// General router configuration.
	router := NewRouter()
	router.Use(middlewares.CORS, middlewares.TraceID)

	rateLim, err := middlewares.RateLimitController(middlewares.RateLimiterConfig{
		MaxRPI:   maxRPI,
		Interval: rateLimInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating rate limit controller middleware: %s", err)
	}

	// Job-control configuration.
	router.Post("/record_historical_events", jobsController.RecordHistoricalEvents, middlewares.WithLogging, rateLim)
	router.Get("/get_status/{taskId}", jobsController.GetStatus, middlewares.WithLogging, rateLim)

	// Query configuration.
	router.Get("/api/v1/uniswap/v3_pool/swaps", recordsController.GetSwaps, middlewares.WithLogging, middlewares.Gzip, rateLim) // nolint
	router.Get("/api/v1/gas/{transactionHash}", recordsController.GetGasQuote, middlewares.WithLogging, rateLim)

	router.Get("/version", infraController.Version, middlewares.WithLogging, rateLim)

	// Health endpoint configuration.
	router.Get("/healthz", healthHandler)
	router.Get("/health", healthHandler)

	return router, nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Router provides a nice api around mux.Router.
type Router struct {
	r *mux.Router
}

// NewRouter is a Mux HTTP router constructor.
func NewRouter() *Router {
	r := mux.NewRouter()
	r.PathPrefix("/").Methods(http.MethodOptions) // accept OPTIONS on all routes and do nothing
	return &Router{r: r}
}

// Get creates a subroute on the specified URI that only accepts GET. You can provide specific middlewares.
func (r *Router) Get(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Subrouter()
	sub.HandleFunc("", f).Methods(http.MethodGet)
	sub.Use(mid...)
}

// Post creates a subroute on the specified URI that only accepts POST. You can provide specific middlewares.
func (r *Router) Post(uri string, f func(http.ResponseWriter, *http.Request), mid ...mux.MiddlewareFunc) {
	sub := r.r.Path(uri).Subrouter()
	sub.HandleFunc("", f).Methods(http.MethodPost)
	sub.Use(mid...)
}

// Use adds middlewares to all routes. Should be used when a middleware should be execute all all routes (e.g. CORS).
func (r *Router) Use(mid ...mux.MiddlewareFunc) {
	r.r.Use(mid...)
}

// Handler returns the configured router http handler.
func (r *Router) Handler() http.Handler {
	return r.r
}
