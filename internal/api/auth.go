package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken validates bearer tokens. An empty token disables the check.
// Health probes are always allowed through.
func (s *Server) requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				s.writeJSON(w, http.StatusUnauthorized, ErrorResponse{
					Error:     "unauthorized",
					Kind:      "unauthorized",
					Hint:      "send Authorization: Bearer <server.api_token>",
					RequestID: requestID(r),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
