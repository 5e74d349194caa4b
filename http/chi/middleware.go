// Package chi provides Chi-compatible middleware for paygate payment
// gating. It is a thin adapter over the shared stdlib gating logic; the
// only Chi-specific behavior is mounting per-route and bypassing CORS
// preflight.
package chi

import (
	"net/http"

	paygate "github.com/paygate-labs/paygate-go"
	httppaygate "github.com/paygate-labs/paygate-go/http"
)

// NewMiddleware returns a Chi-compatible middleware that gates the wrapped
// routes on payment for the given registered resource.
//
// Example usage:
//
//	r := chi.NewRouter()
//	r.Route("/research", func(r chi.Router) {
//	    r.Use(chipaygate.NewMiddleware(guard, "/research"))
//	    r.Post("/", researchHandler)
//	})
func NewMiddleware(guard *paygate.Guard, resourceID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// OPTIONS bypass for CORS preflight.
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			httppaygate.ServeGated(guard, resourceID, next, w, r)
		})
	}
}
