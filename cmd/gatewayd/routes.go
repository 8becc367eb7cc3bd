package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nhalm/canonlog"
	"github.com/nhalm/gatekit"
	"github.com/nhalm/gatekit/breaker"
	"github.com/nhalm/gatekit/upstream"
)

// server holds the wired gateway components behind the HTTP surface.
type server struct {
	gateway *gatekit.Client
	api     *upstream.Client
	breaker *breaker.Breaker
}

func (s *server) routes(r chi.Router) {
	r.Get(upstream.HealthPath, s.handleHealth)
	r.Get(upstream.SearchPath, s.handleSearch)
	r.Get(upstream.ProfilePath+"/{id}", s.handleProfile)
}

// handleSearch proxies a profile search through the gateway. Query parameters
// other than count and start form the search criteria; count caps the page
// size and start resumes a previous page.
func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	criteria := make(map[string]any)
	for key, values := range query {
		if key == "count" || key == "start" {
			continue
		}
		nonEmpty := make([]string, 0, len(values))
		for _, v := range values {
			if v != "" {
				nonEmpty = append(nonEmpty, v)
			}
		}
		switch len(nonEmpty) {
		case 0:
		case 1:
			criteria[key] = nonEmpty[0]
		default:
			// Repeated parameters become a list criterion
			// (?skill=go&skill=python).
			criteria[key] = nonEmpty
		}
	}
	if len(criteria) == 0 {
		setError(r, &httpError{
			Status:  http.StatusBadRequest,
			Code:    "empty_criteria",
			Message: "at least one search criterion is required",
		})
		return
	}

	count := 10
	if raw := query.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			setError(r, &httpError{
				Status:  http.StatusBadRequest,
				Code:    "invalid_count",
				Message: "count must be a positive integer",
			})
			return
		}
		count = n
	}
	cursor := query.Get("start")

	params := make(map[string]any, len(criteria)+2)
	for k, v := range criteria {
		params[k] = v
	}
	params["count"] = count
	if cursor != "" {
		params["start"] = cursor
	}
	key, err := gatekit.Fingerprint(upstream.SearchPath, params)
	if err != nil {
		setError(r, errInternal)
		return
	}

	data, err := s.gateway.Fetch(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		result, err := s.api.SearchProfiles(ctx, criteria, count, cursor)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
	if err != nil {
		setError(r, toHTTPError(err))
		return
	}
	canonlog.InfoAdd(r.Context(), "endpoint", "search")
	setResponse(r, http.StatusOK, json.RawMessage(data))
}

// handleProfile proxies a single profile lookup through the gateway.
func (s *server) handleProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		setError(r, &httpError{
			Status:  http.StatusBadRequest,
			Code:    "missing_id",
			Message: "profile id is required",
		})
		return
	}

	key, err := gatekit.Fingerprint(upstream.ProfilePath, map[string]any{"id": id})
	if err != nil {
		setError(r, errInternal)
		return
	}

	data, err := s.gateway.Fetch(r.Context(), key, func(ctx context.Context) ([]byte, error) {
		profile, err := s.api.GetProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		return json.Marshal(profile)
	})
	if err != nil {
		setError(r, toHTTPError(err))
		return
	}
	canonlog.InfoAdd(r.Context(), "endpoint", "profile")
	setResponse(r, http.StatusOK, json.RawMessage(data))
}

// handleHealth reports the daemon's own view of the world. The upstream probe
// bypasses the gateway so health checks never spend quota or pollute the
// cache; a degraded upstream still yields 200 with details so orchestrators
// do not restart a healthy daemon over a broken dependency.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	upstreamStatus := "ok"
	if err := s.api.Health(ctx); err != nil {
		upstreamStatus = "unreachable"
		canonlog.ErrorAdd(r.Context(), err)
	}

	setResponse(r, http.StatusOK, map[string]string{
		"status":   "ok",
		"upstream": upstreamStatus,
		"circuit":  s.breaker.State().String(),
	})
}

// toHTTPError maps gateway errors onto client-facing responses. Permanent
// upstream 4xx statuses propagate as-is so callers see the real rejection;
// everything transient collapses into the gateway's own backpressure codes.
func toHTTPError(err error) *httpError {
	switch {
	case errors.Is(err, gatekit.ErrCircuitOpen):
		return &httpError{
			Status:  http.StatusServiceUnavailable,
			Code:    "circuit_open",
			Message: "upstream is temporarily unavailable, try again later",
		}
	case errors.Is(err, gatekit.ErrQuotaExhausted):
		return &httpError{
			Status:  http.StatusTooManyRequests,
			Code:    "quota_exhausted",
			Message: "upstream call quota exhausted, try again later",
		}
	case errors.Is(err, gatekit.ErrRetriesExhausted):
		return &httpError{
			Status:  http.StatusBadGateway,
			Code:    "retries_exhausted",
			Message: "upstream did not respond after repeated attempts",
		}
	}

	var statusErr *upstream.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
		return &httpError{
			Status:  statusErr.StatusCode,
			Code:    "upstream_rejected",
			Message: statusErr.Error(),
		}
	}
	if errors.Is(err, gatekit.ErrUpstreamPermanent) {
		return &httpError{
			Status:  http.StatusBadGateway,
			Code:    "upstream_error",
			Message: "upstream rejected the request",
		}
	}
	return errInternal
}
