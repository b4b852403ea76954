package audit

import (
	"context"
	"sync/atomic"
)

type ctxKey struct{}

// RequestInfo carries request attributes copied onto every entry logged while
// handling that request.
type RequestInfo struct {
	IPAddress     string
	UserAgent     string
	CorrelationID string

	denials *atomic.Int32
}

// WithRequestInfo attaches info to ctx.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	if info.denials == nil {
		info.denials = new(atomic.Int32)
	}
	return context.WithValue(ctx, ctxKey{}, info)
}

// RequestInfoFromContext returns the request info stored in ctx, if any.
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(ctxKey{}).(RequestInfo)
	return info
}

// DenialRecorded reports whether an access_denied entry has already been
// written for the request carried by ctx.
func DenialRecorded(ctx context.Context) bool {
	info := RequestInfoFromContext(ctx)
	return info.denials != nil && info.denials.Load() > 0
}

func markDenial(ctx context.Context) {
	if info := RequestInfoFromContext(ctx); info.denials != nil {
		info.denials.Add(1)
	}
}
