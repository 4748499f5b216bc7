package connectors

import (
	"context"
	"crypto/subtle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryTokenInterceptor проверяет сервисный токен в метаданных вызова.
// Пустой token отключает проверку (локальный стенд).
func UnaryTokenInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if token == "" {
			return handler(ctx, req)
		}
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}
		// в gRPC заголовки в нижнем регистре
		got := md.Get(TokenHeader)
		if len(got) == 0 || subtle.ConstantTimeCompare([]byte(got[0]), []byte(token)) != 1 {
			return nil, status.Errorf(codes.Unauthenticated, "invalid service token")
		}
		return handler(ctx, req)
	}
}
