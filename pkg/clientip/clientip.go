// Package clientip resolves the address a request came from so audit events,
// logs and the sign-in throttle can key on it.
package clientip

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// DefaultHeaders are consulted in order before RemoteAddr. Only set them on
// deployments where a proxy overwrites these headers; otherwise clients can
// choose their own address.
var DefaultHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

type contextKey struct{}

func WithContext(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKey{}, ip)
}

// FromContext returns the client address. Its signature matches the audit
// and logger extractors.
func FromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	ip, ok := ctx.Value(contextKey{}).(string)
	return ip, ok && ip != ""
}

// LoggerExtractor adds client_ip to log records.
func LoggerExtractor() func(ctx context.Context) (slog.Attr, bool) {
	return func(ctx context.Context) (slog.Attr, bool) {
		if ip, ok := FromContext(ctx); ok {
			return slog.String("client_ip", ip), true
		}
		return slog.Attr{}, false
	}
}

// Resolve returns the normalized client address of r. The first valid entry
// of the first listed header wins; RemoteAddr is the fallback. An empty
// string means no valid address was found.
func Resolve(r *http.Request, headers ...string) string {
	for _, h := range headers {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		for part := range strings.SplitSeq(v, ",") {
			if ip := parse(part); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return parse(r.RemoteAddr)
	}
	return parse(host)
}

// Middleware stores the resolved address in the request context. Pass no
// headers to trust RemoteAddr only.
func Middleware(headers ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), Resolve(r, headers...))))
		})
	}
}

func parse(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
