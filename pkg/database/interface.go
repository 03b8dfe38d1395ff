package database

import (
	"context"
	"fmt"
	"strings"

	"orgtask-backend/pkg/models"

	"go.uber.org/zap"
)

// DatabaseInterface 定义数据库访问接口
//
// Every lookup of a missing record returns a *models.Error of kind NOT_FOUND. Set mutations are
// single atomic statements and return the record as it is after the update.
type DatabaseInterface interface {
	// 用户管理
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// AssignUserOrg sets org_id only when it is empty or already orgID; a different org is a Conflict.
	AssignUserOrg(ctx context.Context, userID, orgID string) (*models.User, error)
	// ReleaseUserOrg clears org_id only when it still equals orgID.
	ReleaseUserOrg(ctx context.Context, userID, orgID string) (*models.User, error)

	// Organizations
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, orgID string) (*models.Organization, error)
	AddOrganizationMember(ctx context.Context, orgID, userID string) (*models.Organization, error)
	RemoveOrganizationMember(ctx context.Context, orgID, userID string) (*models.Organization, error)
	AddOrganizationTasklist(ctx context.Context, orgID, tasklistID string) (*models.Organization, error)

	// Tasklists
	CreateTasklist(ctx context.Context, tl *models.Tasklist) error
	GetTasklist(ctx context.Context, tasklistID string) (*models.Tasklist, error)
	ListTasklistsByOrganization(ctx context.Context, orgID string) ([]models.Tasklist, error)
	AddTasklistTask(ctx context.Context, tasklistID, taskID string) (*models.Tasklist, error)

	// Tasks
	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	// ListTasksByTasklist returns tasks ordered by created_at.
	ListTasksByTasklist(ctx context.Context, tasklistID string) ([]models.Task, error)
	AddTaskAssignees(ctx context.Context, taskID string, userIDs []string) (*models.Task, error)
	RemoveTaskAssignee(ctx context.Context, taskID, userID string) (*models.Task, error)
	// RemoveAssigneeFromTasklists pulls userID from every task of the given tasklists and
	// returns how many tasks changed.
	RemoveAssigneeFromTasklists(ctx context.Context, tasklistIDs []string, userID string) (int, error)
	SetTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error)

	// WithTx runs fn against a transactional view of the store. fn's error rolls everything back.
	WithTx(ctx context.Context, fn func(tx DatabaseInterface) error) error

	// 健康检查
	HealthCheck(ctx context.Context) error
	// Type names the backing store for the health endpoint.
	Type() string

	// 关闭连接
	Close() error
}

// Supported DB_DRIVER values.
const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string
	PostgresDSN  string
	UseLocalDB   bool
	LocalDataDir string
	Debug        bool
}

// NewDatabase 根据配置选择数据库实现
func NewDatabase(config DatabaseConfig) (DatabaseInterface, error) {
	log := zap.L().Named("database")

	if config.UseLocalDB {
		log.Info("using local database", zap.String("data_dir", config.LocalDataDir))
		db, err := NewLocalDatabase(config.LocalDataDir)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	if strings.TrimSpace(config.PostgresDSN) != "" {
		driver := config.Driver
		if driver == "" {
			driver = DriverPostgres
		}
		log.Info("using PostgreSQL database", zap.String("driver", driver))
		db, err := NewPostgresDatabase(driver, config.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return db, nil
	}

	return nil, fmt.Errorf("no valid database configuration found: set POSTGRES_DSN or USE_LOCAL_DB=true")
}
