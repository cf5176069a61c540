package util

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP extracts the caller's IP, preferring forwarded headers so rate
// limit keys survive a reverse proxy in front of the service.
func ClientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		if ip := strings.TrimSpace(strings.Split(xfwd, ",")[0]); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
