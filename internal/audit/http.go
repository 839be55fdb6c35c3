package audit

import (
	"net"
	"net/http"
	"strings"
)

// WithRequest stamps the caller address and user agent of r onto entry.
func WithRequest(entry Entry, r *http.Request) Entry {
	if r == nil {
		return entry
	}
	entry.IP = clientIP(r)
	entry.UserAgent = r.UserAgent()
	return entry
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
