package handler

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"orgtask-backend/pkg/config"
	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/handlers"
	"orgtask-backend/pkg/logger"
	customMiddleware "orgtask-backend/pkg/middleware"
	"orgtask-backend/pkg/services"
	"orgtask-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

var loggerOnce sync.Once

// Handler 是无服务器函数的入口点
// 所有API端点集中在一个Chi路由器中管理
func Handler(w http.ResponseWriter, r *http.Request) {
	cfg := config.GetCached()

	if err := cfg.Validate(); err != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+err.Error())
		return
	}

	loggerOnce.Do(func() {
		if _, err := logger.New(cfg); err != nil {
			zap.L().Warn("falling back to no-op logger", zap.Error(err))
		}
	})

	// 获取数据库连接（连接池复用）
	db, err := database.GetDatabase(DatabaseConfig(cfg))
	if err != nil {
		zap.L().Error("database unavailable", zap.Error(err))
		utils.WriteErrorResponseWithCode(w, http.StatusServiceUnavailable, "STORE_ERROR", "storage is unavailable", "")
		return
	}

	NewRouter(cfg, db, zap.L()).ServeHTTP(w, r)
}

// DatabaseConfig maps application config onto store config.
func DatabaseConfig(cfg *config.Config) database.DatabaseConfig {
	return database.DatabaseConfig{
		Driver:       cfg.DBDriver,
		PostgresDSN:  cfg.PostgresDSN,
		UseLocalDB:   cfg.UseLocalDB,
		LocalDataDir: cfg.LocalDataDir,
		Debug:        cfg.Debug,
	}
}

// NewRouter builds the full HTTP surface over db.
func NewRouter(cfg *config.Config, db database.DatabaseInterface, log *zap.Logger) http.Handler {
	router := chi.NewRouter()

	setupMiddleware(router, cfg, log)
	setupRoutes(router, cfg, db, log)

	return router
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config, log *zap.Logger) {
	// 基础中间件
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.CleanPath)
	router.Use(customMiddleware.Logger(log))
	router.Use(customMiddleware.Recovery(cfg, log))

	// CORS中间件
	router.Use(customMiddleware.CORS(cfg))

	// 超时中间件（无服务器函数有时间限制）
	router.Use(middleware.Timeout(25 * time.Second))

	// 压缩中间件
	router.Use(middleware.Compress(5))

	// 开发环境额外中间件
	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 设置所有API路由
func setupRoutes(router *chi.Mux, cfg *config.Config, db database.DatabaseInterface, log *zap.Logger) {
	opts := services.OptionsFromConfig(cfg)
	opts.Logger = log
	svc := services.New(db, opts)

	jwtService := utils.NewJWTService(cfg.JWTSecret)
	accounts := services.NewAccountService(db, jwtService, opts)

	authHandler := handlers.NewAuthHandler(cfg, accounts, jwtService, db)
	orgsHandler := handlers.NewOrgsHandler(svc.Orgs, svc.Members, svc.Views)
	tasksHandler := handlers.NewTasksHandler(svc.Tasks)

	// 健康检查端点
	router.Get("/", authHandler.HealthCheck)

	// 数据库连接池状态端点（调试用）
	if cfg.IsDevelopment() {
		router.Get("/debug/db-pool", func(w http.ResponseWriter, r *http.Request) {
			utils.WriteSuccessResponse(w, database.GetConnectionStats())
		})
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.MaxBodySize(maxBodyBytes))
		r.Use(customMiddleware.ContentTypeJSON)

		// 公开路由（不需要认证）
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.Signup)
			r.Post("/signin", authHandler.Signin)
			r.Post("/refresh", authHandler.RefreshToken)

			r.With(customMiddleware.AuthMiddleware(jwtService)).Get("/me", authHandler.Me)
		})

		// 需要认证的路由
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(jwtService))

			r.Route("/orgs", func(r chi.Router) {
				r.Post("/", orgsHandler.CreateOrganization)
				r.Route("/{orgID}", func(r chi.Router) {
					r.Get("/", orgsHandler.GetOrganization)
					r.Post("/members", orgsHandler.AddMember)
					r.Delete("/members/{userID}", orgsHandler.RemoveMember)
					r.Post("/tasklists", orgsHandler.CreateTasklist)
				})
			})

			r.Post("/tasklists/{tasklistID}/tasks", tasksHandler.CreateTask)

			r.Route("/tasks/{taskID}", func(r chi.Router) {
				r.Post("/assignees", tasksHandler.AddAssignees)
				r.Delete("/assignees/{userID}", tasksHandler.RemoveAssignee)
				r.Put("/status", tasksHandler.ChangeStatus)
			})
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusNotFound, "NOT_FOUND",
			fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path), "")
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
