package main

import (
	"crypto/subtle"
	"net/http"
)

const apiKeyHeader = "X-API-Key"

// apiKey returns middleware that admits only requests carrying one of the
// configured keys. With no keys configured the daemon runs open, which is the
// expected mode behind a private network boundary.
func apiKey(keys []string) func(http.Handler) http.Handler {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			allowed = append(allowed, []byte(k))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowed) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			presented := []byte(r.Header.Get(apiKeyHeader))
			for _, key := range allowed {
				if subtle.ConstantTimeCompare(presented, key) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}

			setError(r, &httpError{
				Status:  http.StatusUnauthorized,
				Code:    "unauthorized",
				Message: "missing or invalid API key",
			})
		})
	}
}
