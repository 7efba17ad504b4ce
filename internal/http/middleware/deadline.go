package middleware

import (
	"net/http"
	"strings"
	"time"
)

// LongRunning clears the server write deadline for requests whose path
// starts with one of prefixes. Event streams and peaks extraction outlive
// the normal write timeout.
func LongRunning(prefixes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range prefixes {
				if strings.HasPrefix(r.URL.Path, p) {
					// Not every writer supports deadlines; the request still proceeds.
					_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
					break
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
