package server

import (
	"context"

	"github.com/siteinventory/spdash/internal/model"
)

type contextKey int

const (
	ctxKeySession contextKey = iota
	ctxKeyCSRFToken
	ctxKeyRequestID
)

func withSession(ctx context.Context, sess *model.Session) context.Context {
	return context.WithValue(ctx, ctxKeySession, sess)
}

// SessionFromContext returns the dashboard session from the context, or nil.
func SessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(ctxKeySession).(*model.Session)
	return s
}

func withCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeyCSRFToken, token)
}
