package auditcontext

import (
	"context"
	"strings"
)

type actorKey struct{}
type requestKey struct{}

type actor struct {
	actorType string
	actorID   string
}

type request struct {
	ipAddress string
	userAgent string
}

// WithActor records who is acting for the rest of the request.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor{actorType: actorType, actorID: strings.TrimSpace(actorID)})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if v, ok := ctx.Value(actorKey{}).(actor); ok {
		return v.actorType, v.actorID
	}
	return "", ""
}

func WithRequest(ctx context.Context, ipAddress, userAgent string) context.Context {
	return context.WithValue(ctx, requestKey{}, request{
		ipAddress: strings.TrimSpace(ipAddress),
		userAgent: strings.TrimSpace(userAgent),
	})
}

func IPAddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestKey{}).(request); ok {
		return v.ipAddress
	}
	return ""
}

func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestKey{}).(request); ok {
		return v.userAgent
	}
	return ""
}
