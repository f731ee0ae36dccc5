package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/bnema/zerowrap"

	"github.com/bnema/toolshed/internal/adapters/dto"
	"github.com/bnema/toolshed/internal/boundaries/out"
)

// RateLimit rejects requests over the global or per-client budget with 429.
// A nil limiter disables the corresponding check.
func RateLimit(globalLimiter, ipLimiter out.RateLimiter, trustedNets []*net.IPNet, log zerowrap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if globalLimiter == nil && ipLimiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if globalLimiter != nil && !globalLimiter.Allow(ctx, "global") {
				sendRateLimitError(w)
				return
			}

			if ipLimiter != nil {
				ip := GetClientIP(r, trustedNets)
				if !ipLimiter.Allow(ctx, "ip:"+ip) {
					log.Debug().
						Str(zerowrap.FieldLayer, "adapter").
						Str(zerowrap.FieldAdapter, "http").
						Str(zerowrap.FieldClientIP, ip).
						Str(zerowrap.FieldPath, r.URL.Path).
						Msg("rate limit exceeded")
					sendRateLimitError(w)
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func sendRateLimitError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "1")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{Error: "rate limit exceeded"})
}
