package backend

import (
	"context"
	"strings"
)

type authTokenKey struct{}

// WithAuthToken кладёт токен пользователя в контекст запроса к backend.
func WithAuthToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, authTokenKey{}, token)
}

// AuthToken возвращает токен из контекста, если он есть.
func AuthToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(authTokenKey{}).(string)
	return token, ok && token != ""
}
