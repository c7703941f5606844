package grpc

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultguard/internal/server/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type ctxKey string

const userIDKey ctxKey = "userID"

func withOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, userIDKey, ownerID)
}

func ownerFrom(ctx context.Context) (string, error) {
	id, _ := ctx.Value(userIDKey).(string)
	if id == "" {
		return "", status.Error(codes.Unauthenticated, "missing owner")
	}
	return id, nil
}

// accessTokenInterceptor authenticates every engine method. Other services
// on the same server, such as health, stay open.
func (s *GRPCServer) accessTokenInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {

	if !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
		return handler(ctx, req)
	}

	var accessToken string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		values := md.Get(auth.AccessTokenHeader)
		if len(values) > 0 {
			accessToken = values[0]
		}
	}
	if len(accessToken) == 0 {
		return nil, status.Error(codes.Unauthenticated, "missing token")
	}

	userID, err := auth.GetUserIDFromToken(accessToken, s.jwtSecret)
	if err != nil {
		if auth.Expired(err) {
			return nil, status.Error(codes.Unauthenticated, "token expired")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}

	return handler(withOwner(ctx, userID), req)
}

func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug(ctx, "rpc", "method", info.FullMethod, "code", status.Code(err).String(),
		"duration", time.Since(start))
	return resp, err
}
