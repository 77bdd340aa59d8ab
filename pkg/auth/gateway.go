package auth

import (
	"net"
	"net/http"
	"strings"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/utils"
)

// SecConfig drives CORS, IP whitelisting and rate limiting for the
// request gateway.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
}

// GatewayMiddleware authenticates every request: CORS preflight, IP
// whitelist, bearer-token identity, then per-caller rate limiting.
// Verified requests continue with the user id in the context. Health
// probes pass unauthenticated.
func GatewayMiddleware(cfg SecConfig, ident IdentityProvider) func(http.Handler) http.Handler {
	limiters := newUserLimiters(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// log request (redacts sensitive headers)
			logger.LogRequest(r)

			// cors preflight
			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,PATCH,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// ip whitelist
			if len(cfg.IPWhitelist) > 0 {
				ip := clientIP(r)
				logger.Debug("ip_check", "ip", ip)
				if !ipWhitelisted(ip, cfg.IPWhitelist) {
					utils.JSONError(w, http.StatusForbidden, "forbidden")
					logger.Warn("request_blocked", "reason", "ip_not_whitelisted", "ip", ip, "path", r.URL.Path)
					return
				}
			}

			// allow unauthenticated ops endpoints
			if r.Method == http.MethodGet && opsPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			userID, err := ident.Verify(BearerToken(r.Header.Get("Authorization")))
			if err != nil {
				utils.JSONError(w, http.StatusUnauthorized, "unauthorized")
				logger.Warn("request_unauthorized", "path", r.URL.Path, "remote", r.RemoteAddr)
				return
			}
			logger.Debug("auth_check", "user", userID)

			// rate limiting per verified caller
			if !limiters.Allow(userID) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "user", userID, "path", r.URL.Path)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func opsPath(p string) bool {
	return p == "/healthz" || p == "/readyz" || p == "/metrics" ||
		p == "/openapi.yaml" || strings.HasPrefix(p, "/docs/")
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipWhitelisted(ip string, list []string) bool {
	for _, w := range list {
		if ip == w {
			return true
		}
	}
	return false
}
