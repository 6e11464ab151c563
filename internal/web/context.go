package web

import (
	"context"
	"net"
	"net/http"

	"github.com/JonMunkholm/importer/internal/core"
	"github.com/JonMunkholm/importer/internal/web/middleware"
)

// withRequestMetadata copies the client IP and the authenticated subject
// into ctx so jobs can log who started them.
func withRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r))
	if subject := middleware.Subject(r.Context()); subject != "" {
		ctx = core.ContextWithRequester(ctx, subject)
	}
	return ctx
}

// clientIP is RemoteAddr without the port. TrustedRealIP has already
// replaced it for requests from trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
