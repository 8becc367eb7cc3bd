package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nhalm/canonlog"
)

// httpError is a client-facing error response.
type httpError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *httpError) Error() string { return e.Message }

var errInternal = &httpError{
	Status:  http.StatusInternalServerError,
	Code:    "internal",
	Message: "internal server error",
}

// responseState collects the handler's response for the middleware to write
// after logging. Handlers set exactly one of body or err.
type responseState struct {
	mu     sync.Mutex
	status int
	body   any
	err    *httpError
}

type contextKey string

const stateKey contextKey = "response_state"

// setResponse records a successful JSON response.
func setResponse(r *http.Request, status int, body any) {
	if state, ok := r.Context().Value(stateKey).(*responseState); ok {
		state.mu.Lock()
		state.status = status
		state.body = body
		state.mu.Unlock()
	}
}

// setError records an error response.
func setError(r *http.Request, err *httpError) {
	if state, ok := r.Context().Value(stateKey).(*responseState); ok {
		state.mu.Lock()
		state.err = err
		state.mu.Unlock()
	}
}

// handler returns the outermost middleware: it opens a canonical log line
// with a request ID, recovers panics into a 500, writes the response the
// handler recorded, and flushes one log entry per request.
func handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := &responseState{}
			ctx := context.WithValue(r.Context(), stateKey, state)
			ctx = canonlog.NewContext(ctx)
			start := time.Now()

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", requestID)

			canonlog.InfoAddMany(ctx, map[string]any{
				"request_id": requestID,
				"method":     r.Method,
				"path":       r.URL.Path,
			})

			r = r.WithContext(ctx)

			defer func() {
				if rec := recover(); rec != nil {
					state.mu.Lock()
					state.err = errInternal
					state.mu.Unlock()
					canonlog.ErrorAdd(ctx, fmt.Errorf("panic: %v", rec))
				}

				state.mu.Lock()
				status := state.status
				if state.err != nil {
					status = state.err.Status
					canonlog.ErrorAdd(ctx, state.err)
				}
				state.mu.Unlock()

				route := r.URL.Path
				if rctx := chi.RouteContext(ctx); rctx != nil {
					if pattern := rctx.RoutePattern(); pattern != "" {
						route = pattern
					}
				}

				canonlog.InfoAddMany(ctx, map[string]any{
					"route":       route,
					"status":      status,
					"duration_ms": time.Since(start).Milliseconds(),
				})
				canonlog.Flush(ctx)

				writeResponse(w, state)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func writeResponse(w http.ResponseWriter, state *responseState) {
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.err != nil {
		writeJSON(w, state.err.Status, map[string]*httpError{"error": state.err})
		return
	}
	if state.body != nil {
		writeJSON(w, state.status, state.body)
		return
	}
	if state.status != 0 {
		w.WriteHeader(state.status)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	encoded, err := json.Marshal(body)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(encoded)
}
