// Package api implements the councilhub HTTP API using chi.
package api

import (
	"net/http"

	"github.com/starford/councilhub/internal/auth"
	"github.com/starford/councilhub/internal/visibility"
)

// Identify resolves the session cookie into an auth.Caller stored on the
// request context. Requests without a valid session continue anonymously.
func Identify(svc *auth.Service, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := auth.Anonymous()
			if c, err := r.Cookie(cookieName); err == nil {
				caller = svc.Resolve(r.Context(), c.Value)
			}
			next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
		})
	}
}

// RequirePrivileged rejects callers the policy does not privilege.
func RequirePrivileged(policy visibility.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !policy.IsPrivileged(auth.CallerFrom(r.Context())) {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
