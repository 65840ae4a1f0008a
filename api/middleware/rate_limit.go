package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/apexlabs-backend/api/responses"
	pkgerrors "github.com/angelmondragon/apexlabs-backend/pkg/errors"
	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
)

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// RateLimitPolicy is a fixed-window, per-client-IP request budget.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Limit  int
	// FailOpen lets requests through when the counter store is unreachable.
	FailOpen bool
}

func (p RateLimitPolicy) enabled() bool {
	return p.Window > 0 && p.Limit > 0
}

// bucket returns the counter key for ip in the window containing now, plus
// the time left in that window.
func (p RateLimitPolicy) bucket(ip string, now time.Time) (string, time.Duration) {
	start := now.Truncate(p.Window)
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		name = "default"
	}
	key := "apex:ratelimit:" + name + ":" + ip + ":" + strconv.FormatInt(start.Unix(), 10)
	return key, start.Add(p.Window).Sub(now)
}

// RateLimit counts requests per client IP and answers 429 once a window's
// budget is spent.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return rateLimit(policy, store, logg, time.Now)
}

func rateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)
			if ip == "" {
				next.ServeHTTP(w, r)
				return
			}

			key, remaining := policy.bucket(ip, now())
			// the extra second keeps the key alive past the window edge
			count, err := store.IncrWithTTL(ctx, key, remaining+time.Second)
			if err != nil {
				if policy.FailOpen {
					if logg != nil {
						logg.Warn(logg.WithField(ctx, "policy", policy.Name), "ratelimit.store_unavailable")
					}
					next.ServeHTTP(w, r)
					return
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if count <= int64(policy.Limit) {
				next.ServeHTTP(w, r)
				return
			}

			if logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"policy":   policy.Name,
					"ip":       ip,
					"attempts": count,
					"limit":    policy.Limit,
				}), "ratelimit.blocked")
			}
			retryAfter := int(remaining.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests"))
		})
	}
}

// clientIP prefers the left-most X-Forwarded-For entry set by the load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
