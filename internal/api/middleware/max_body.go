package middleware

import (
	"net/http"

	"github.com/cloo-solutions/repokit/internal/api"
)

// LimitBody caps request bodies at limit bytes. A request declaring a larger
// Content-Length is refused before the handler runs; any other body is read
// through http.MaxBytesReader. A non-positive limit disables the cap.
func LimitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, api.CodeTooLarge, "request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
