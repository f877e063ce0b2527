package main

import "net/http"

// health returns a handler that reports serverID as a liveness/readiness
// probe response.
func health(serverID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(serverID))
	}
}
