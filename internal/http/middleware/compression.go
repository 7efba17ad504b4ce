package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// compressibleTypes are the response types worth compressing. Peaks
// documents are long arrays of small numbers and shrink well.
var compressibleTypes = []string{
	"application/json",
	"application/problem+json",
	"application/openapi+json",
	"application/yaml",
	"text/plain",
	"text/html",
}

// Compress returns a compressor that prefers brotli, falling back to chi's
// gzip and deflate. Event streams are never compressed since compression
// buffers writes and defeats flushing.
func Compress(level int) func(http.Handler) http.Handler {
	c := chimiddleware.NewCompressor(level, compressibleTypes...)
	c.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, brotliLevel(level))
	})
	compress := c.Handler

	return func(next http.Handler) http.Handler {
		compressed := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

// brotliLevel maps a gzip-style level (1-9) onto brotli's 0-11 scale.
func brotliLevel(level int) int {
	switch {
	case level <= 0:
		return brotli.DefaultCompression
	case level >= 9:
		return brotli.BestCompression
	default:
		return level
	}
}
