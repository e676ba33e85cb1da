package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type peerIDKey struct{}

// WithRequestID stores the inbound request id on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithPeerID stores the authenticated peer on the context.
func WithPeerID(ctx context.Context, peerID string) context.Context {
	peerID = strings.TrimSpace(peerID)
	if peerID == "" {
		return ctx
	}
	return context.WithValue(ctx, peerIDKey{}, peerID)
}

func PeerIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(peerIDKey{}).(string); ok {
		return v
	}
	return ""
}
