package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"orgtask-backend/pkg/config"
	"orgtask-backend/pkg/middleware"
	"orgtask-backend/pkg/models"
	"orgtask-backend/pkg/services"
	"orgtask-backend/pkg/utils"

	"go.uber.org/zap"
)

// AccountAPI is the account surface the auth handler depends on.
type AccountAPI interface {
	Signup(ctx context.Context, req models.UserSignupRequest) (*models.UserLoginResponse, error)
	Signin(ctx context.Context, req models.UserSigninRequest) (*models.UserLoginResponse, error)
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

// HealthChecker reports store health for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Type() string
}

// AuthHandler 认证处理器
type AuthHandler struct {
	config   *config.Config
	accounts AccountAPI
	jwt      *utils.JWTService
	store    HealthChecker
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.Config, accounts AccountAPI, jwtService *utils.JWTService, store HealthChecker) *AuthHandler {
	return &AuthHandler{
		config:   cfg,
		accounts: accounts,
		jwt:      jwtService,
		store:    store,
	}
}

// Signup 用户注册
// POST /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req models.UserSignupRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	resp, err := h.accounts.Signup(r.Context(), req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, resp)
}

// Signin 用户登录
// POST /api/auth/signin
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	var req models.UserSigninRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}

	resp, err := h.accounts.Signin(r.Context(), req)
	if errors.Is(err, services.ErrInvalidCredentials) {
		utils.WriteUnauthorizedResponse(w, "Invalid email or password")
		return
	}
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, resp)
}

// RefreshToken 刷新令牌
// POST /api/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		utils.WriteBadRequestResponse(w, "refresh_token is required")
		return
	}

	accessToken, expiresIn, err := h.jwt.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		zap.L().Debug("refresh rejected", zap.Error(err))
		utils.WriteUnauthorizedResponse(w, "Invalid or expired refresh token")
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   expiresIn,
	})
}

// Me 获取当前用户
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.GetUser(r.Context(), middleware.ActorID(r.Context()))
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, user)
}

// HealthCheck 健康检查
// GET /
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := h.store.HealthCheck(ctx); err != nil {
		zap.L().Warn("health check failed", zap.Error(err))
		dbStatus = "unhealthy"
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     "orgtask-backend",
		"version":     "1.0.0",
		"environment": h.config.Environment,
		"database":    h.store.Type(),
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	})
}
