package middleware

import (
	"context"
	"net/http"
	"strings"

	"orgtask-backend/pkg/models"
	"orgtask-backend/pkg/utils"

	"go.uber.org/zap"
)

// ContextKey 用于在context中存储用户信息的键
type ContextKey string

const (
	UserContextKey ContextKey = "user"
)

// AuthMiddleware JWT认证中间件. Only access tokens are accepted; the token subject becomes the
// actor for every downstream operation.
func AuthMiddleware(jwtService *utils.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := zap.L().Named("auth").With(zap.String("path", r.URL.Path))

			// 从Authorization头获取token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.WriteUnauthorizedResponse(w, "Missing authorization header")
				return
			}

			// 检查Bearer前缀
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || tokenString == "" {
				utils.WriteUnauthorizedResponse(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				log.Debug("token rejected", zap.Error(err))
				utils.WriteUnauthorizedResponse(w, "Invalid token")
				return
			}

			// 检查token类型（只接受access token）
			if claims.Type != "access" {
				log.Debug("wrong token type", zap.String("type", claims.Type))
				utils.WriteUnauthorizedResponse(w, "Invalid token type")
				return
			}

			user := &models.User{
				ID:    claims.UserID,
				Email: claims.Email,
			}
			recordUser(r.Context(), user.ID)
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext 从context中获取用户信息
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok && user != nil
}

// ActorID returns the authenticated user's id, or "" for anonymous requests.
func ActorID(ctx context.Context) string {
	if user, ok := GetUserFromContext(ctx); ok {
		return user.ID
	}
	return ""
}

// WithUser stores user in ctx the way AuthMiddleware does.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}
