package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"carflow/models"
	"carflow/services"
)

var startTime = time.Now()

// HealthResponse is returned by /v1/health.
type HealthResponse struct {
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondOK(w, s.logger, HealthResponse{Uptime: time.Since(startTime).Round(time.Second).String()})
}

func (s *Server) handleBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := s.query.ListBrands(r.Context())
	s.respondList(w, "list brands", brands, len(brands), err)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	brandID, err := pathInt64(r, "brandID")
	if err != nil {
		respondBadRequest(w, s.logger, err.Error())
		return
	}
	ms, err := s.query.ListModels(r.Context(), brandID)
	s.respondList(w, "list models", ms, len(ms), err)
}

func (s *Server) handleYears(w http.ResponseWriter, r *http.Request) {
	modelID, err := pathInt64(r, "modelID")
	if err != nil {
		respondBadRequest(w, s.logger, err.Error())
		return
	}
	years, err := s.query.ListYears(r.Context(), modelID)
	s.respondList(w, "list years", years, len(years), err)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.query.ListRegions(r.Context())
	s.respondList(w, "list regions", regions, len(regions), err)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondBadRequest(w, s.logger, err.Error())
		return
	}
	cp, err := s.query.ConsolidatedPrice(r.Context(), f)
	s.respondResult(w, "consolidated price", cp, err)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondBadRequest(w, s.logger, err.Error())
		return
	}
	cmp, err := s.query.CompareWithNational(r.Context(), f)
	s.respondResult(w, "national comparison", cmp, err)
}

func (s *Server) respondList(w http.ResponseWriter, op string, data interface{}, n int, err error) {
	if err != nil {
		s.logger.Error("[api] %s: %v", op, err)
		respondUnavailable(w, s.logger)
		return
	}
	if n == 0 {
		respondNoData(w, s.logger)
		return
	}
	respondOK(w, s.logger, data)
}

func (s *Server) respondResult(w http.ResponseWriter, op string, data interface{}, err error) {
	switch {
	case errors.Is(err, services.ErrNoData):
		respondNoData(w, s.logger)
	case err != nil:
		s.logger.Error("[api] %s: %v", op, err)
		respondUnavailable(w, s.logger)
	default:
		respondOK(w, s.logger, data)
	}
}

// parseFilter reads modelID and year from the path and the optional
// brand_id and region query parameters.
func parseFilter(r *http.Request) (services.QueryFilter, error) {
	var f services.QueryFilter
	var err error

	if f.ModelID, err = pathInt64(r, "modelID"); err != nil {
		return f, err
	}
	year, err := pathInt64(r, "year")
	if err != nil {
		return f, err
	}
	f.YearModel = int(year)

	q := r.URL.Query()
	if raw := q.Get("brand_id"); raw != "" {
		if f.BrandID, err = strconv.ParseInt(raw, 10, 64); err != nil || f.BrandID <= 0 {
			return f, fmt.Errorf("invalid brand_id %q", raw)
		}
	}
	f.Region = models.ParseRegion(q.Get("region"))
	return f, nil
}

func pathInt64(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q", name, raw)
	}
	return n, nil
}
