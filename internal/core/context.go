package core

import "context"

type contextKey string

const (
	ctxKeyIPAddress contextKey = "client_ip"
	ctxKeyRequester contextKey = "requester"
)

// ContextWithIPAddress adds the client IP address to ctx for job logging.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// ContextWithRequester adds the authenticated subject (API key name or
// token subject) to ctx.
func ContextWithRequester(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, ctxKeyRequester, subject)
}

// GetIPAddressFromContext extracts the client IP address from ctx.
func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}

// GetRequesterFromContext extracts the authenticated subject from ctx.
func GetRequesterFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyRequester).(string); ok {
		return v
	}
	return ""
}
