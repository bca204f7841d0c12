// Package requesttime pins a single "now" per request so billing timestamps
// computed while handling one webhook agree with each other.
package requesttime

import (
	"net/http"
	"time"

	"cargolink/pkg/requestcontext"
)

// Middleware stamps the request context with time.Now().
func Middleware(next http.Handler) http.Handler {
	return WithClock(time.Now)(next)
}

// WithClock stamps the request context using the supplied clock.
func WithClock(clock func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), clock())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
