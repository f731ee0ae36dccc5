package middleware

import (
	"net/http"
)

// SecurityHeaders adds standard security headers to API responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		// The API serves JSON and archives only.
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only over a real TLS connection; X-Forwarded-Proto is client-controlled.
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
