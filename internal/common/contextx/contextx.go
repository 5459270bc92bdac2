package contextx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	orderIDKey   ctxKey = "order_id"
)

func WithNewRequestID(ctx context.Context) context.Context {
	return context.WithValue(ctx, requestIDKey, newRequestID())
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}

	return ""
}

func WithOrderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, orderIDKey, id)
}

func GetOrderID(ctx context.Context) string {
	if v, ok := ctx.Value(orderIDKey).(string); ok {
		return v
	}

	return ""
}

func newRequestID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "req-" + hex.EncodeToString(b[:])
}
