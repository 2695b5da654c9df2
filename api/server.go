package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carflow/models"
	"carflow/services"
	"carflow/utils"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 30 * time.Second
	shutdownTimeout    = 15 * time.Second
)

var httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "carflow_http_requests_total",
	Help: "HTTP requests served, by route template and status code.",
}, []string{"route", "code"})

// PriceQuerier is the read side the API serves.
type PriceQuerier interface {
	ListBrands(ctx context.Context) ([]*models.Brand, error)
	ListModels(ctx context.Context, brandID int64) ([]*models.Model, error)
	ListYears(ctx context.Context, modelID int64) ([]int, error)
	ListRegions(ctx context.Context) ([]string, error)
	ConsolidatedPrice(ctx context.Context, f services.QueryFilter) (*models.ConsolidatedPrice, error)
	CompareWithNational(ctx context.Context, f services.QueryFilter) (*models.NationalComparison, error)
}

// Server is the read-only HTTP API over consolidated prices.
type Server struct {
	query  PriceQuerier
	logger *utils.Logger
	router *mux.Router
}

// NewServer builds the router.
func NewServer(query PriceQuerier, logger *utils.Logger) *Server {
	s := &Server{query: query, logger: logger, router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.instrument)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	v1.HandleFunc("/brands", s.handleBrands).Methods(http.MethodGet)
	v1.HandleFunc("/brands/{brandID:[0-9]+}/models", s.handleModels).Methods(http.MethodGet)
	v1.HandleFunc("/models/{modelID:[0-9]+}/years", s.handleYears).Methods(http.MethodGet)
	v1.HandleFunc("/regions", s.handleRegions).Methods(http.MethodGet)
	v1.HandleFunc("/models/{modelID:[0-9]+}/years/{year:[0-9]+}/prices", s.handlePrice).Methods(http.MethodGet)
	v1.HandleFunc("/models/{modelID:[0-9]+}/years/{year:[0-9]+}/compare", s.handleCompare).Methods(http.MethodGet)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[api] Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("[api] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		s.logger.Debug("[api] %s %s -> %d (%v)", r.Method, r.URL.Path, rec.code, time.Since(start).Round(time.Microsecond))
	})
}
