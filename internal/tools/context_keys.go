package tools

import (
	"context"

	"github.com/nextlevelbuilder/openclaw/internal/store"
)

// Tool execution context keys. Values are injected into context by the
// run loop and read by individual tools during Execute(), keeping tool
// instances free of mutable per-call state.

type toolContextKey string

const (
	ctxSessionKey toolContextKey = "tool_session_key"
	ctxOrigin     toolContextKey = "tool_origin"
)

func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxSessionKey, key)
}

func SessionKeyFromCtx(ctx context.Context) string {
	v, _ := ctx.Value(ctxSessionKey).(string)
	return v
}

func WithOrigin(ctx context.Context, o store.Origin) context.Context {
	return context.WithValue(ctx, ctxOrigin, o)
}

func OriginFromCtx(ctx context.Context) store.Origin {
	v, _ := ctx.Value(ctxOrigin).(store.Origin)
	return v
}
