package mw

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/toposync/internal/logger"
)

// EnforceHost restricts an admin route to the configured Host headers
// (TOPOSYNC_ALLOWED_HOSTS). Patterns are exact names or "*.example.com";
// the port of the Host header and letter case are ignored. An empty list
// lets everyone through.
func EnforceHost(allowedHosts []string, log logger.Logger) func(http.Handler) http.Handler {
	if len(allowedHosts) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	patterns := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			patterns = append(patterns, h)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := hostOnly(r.Host)
			for _, pattern := range patterns {
				if matchHost(host, pattern) {
					next.ServeHTTP(w, r)
					return
				}
			}

			log.Warn("admin request for foreign host rejected",
				logger.String("host", r.Host),
				logger.String("remote_addr", r.RemoteAddr),
				logger.String("path", r.URL.Path))
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

// hostOnly lowercases a Host header and drops its port.
func hostOnly(h string) string {
	if host, _, err := net.SplitHostPort(h); err == nil {
		h = host
	}
	return strings.ToLower(strings.TrimSuffix(h, "."))
}

// matchHost reports whether host equals pattern or, for "*.example.com",
// is a subdomain of example.com.
func matchHost(host, pattern string) bool {
	if host == pattern {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*"); ok && strings.HasPrefix(suffix, ".") {
		return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
	}
	return false
}
