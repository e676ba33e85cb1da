package correlation

import (
	"context"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

// OCPI headers tying a call chain together across parties. The request id is
// unique per hop; the correlation id is carried over every hop.
const (
	HeaderName        = "X-Correlation-ID"
	RequestHeaderName = "X-Request-ID"
)

type key struct{}

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(key{}).(string)
	return id
}

// WithID stores id on ctx; blank ids leave ctx unchanged.
func WithID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// Ensure returns ctx carrying a correlation id, minting one if absent.
func Ensure(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

func NewID() string {
	return ulid.Make().String()
}

// Stamp sets both headers on an outbound request and returns the request id.
func Stamp(ctx context.Context, h http.Header) (context.Context, string) {
	ctx, cid := Ensure(ctx)
	requestID := NewID()
	h.Set(RequestHeaderName, requestID)
	h.Set(HeaderName, cid)
	return ctx, requestID
}
