package mw

import (
	"net/http"

	"github.com/MrSnakeDoc/toposync/internal/logger"
	"github.com/MrSnakeDoc/toposync/internal/utils"
)

// AllowOnlyCIDRS restricts an admin route to the configured client IPs and
// CIDRs (TOPOSYNC_ALLOWED_CIDRS). An empty list lets everyone through.
// With trustProxy the client IP is read from X-Forwarded-For.
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m := utils.NewIPMatcher(allowed)
	if m.IsEmpty() {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			if m.Allow(ip) {
				next.ServeHTTP(w, r)
				return
			}

			log.Warn("admin request from foreign client rejected",
				logger.String("client_ip", ip),
				logger.String("remote_addr", r.RemoteAddr),
				logger.String("path", r.URL.Path),
				logger.Bool("trust_proxy", trustProxy))
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}
