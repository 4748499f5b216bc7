package auth

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type ctxKey int

const (
	callerKey ctxKey = iota
	scopesKey
)

// NewMiddleware проверяет Bearer-токен и кладет в контекст адрес вызывающего и его scopes.
func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			p, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), p.Caller, p.Scopes)))
		})
	}
}

// RequireScope пропускает только токены с указанным scope. Ставится после NewMiddleware.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes, _ := r.Context().Value(scopesKey).(map[string]bool)
			if !scopes[scope] {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithCaller(ctx context.Context, caller common.Address, scopes map[string]bool) context.Context {
	ctx = context.WithValue(ctx, callerKey, caller)
	return context.WithValue(ctx, scopesKey, scopes)
}

// CallerFrom возвращает principal запроса, установленный middleware.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	caller, ok := ctx.Value(callerKey).(common.Address)
	return caller, ok
}
