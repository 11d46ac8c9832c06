package middleware

import (
	"net/http"

	apperrors "github.com/carelink/callsignal/internal/errors"
	"github.com/carelink/callsignal/internal/httputil"
)

const DefaultMaxBodySize = 1 << 20 // 1MB

// BodyLimit rejects requests whose declared Content-Length exceeds maxSize
// and caps chunked bodies with MaxBytesReader. Call payloads are small JSON
// documents; anything near the cap is malformed.
func BodyLimit(maxSize int64) func(http.Handler) http.Handler {
	if maxSize <= 0 {
		maxSize = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && r.ContentLength > maxSize {
				httputil.WriteErrorWithStatus(w, http.StatusRequestEntityTooLarge,
					apperrors.ValidationError("request body too large"))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			next.ServeHTTP(w, r)
		})
	}
}
