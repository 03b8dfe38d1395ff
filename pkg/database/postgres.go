package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgtask-backend/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db     *sqlx.DB
	q      sqlx.ExtContext // db, or the open transaction
	driver string
	inTx   bool
	log    *zap.Logger
}

// NewPostgresDatabase 创建PostgreSQL数据库实例. driver is "postgres" (lib/pq) or "pgx".
func NewPostgresDatabase(driverName, dsn string) (*PostgresDatabase, error) {
	log := zap.L().Named("postgres")

	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		dsn, // 最后尝试原始DSN
	}
	if driverName == DriverPgx {
		// 连接池代理（pgbouncer 等）不支持预编译语句
		strategies = append([]string{addConnectionParams(dsn, "default_query_exec_mode=simple_protocol")}, strategies...)
	}

	var err error
	for i, strategy := range strategies {
		log.Debug("trying connection strategy", zap.Int("strategy", i+1))

		var db *sqlx.DB
		db, err = sqlx.Open(driverName, strategy)
		if err != nil {
			log.Warn("connection strategy failed to open", zap.Int("strategy", i+1), zap.Error(err))
			continue
		}

		// 设置连接池参数
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err != nil {
			log.Warn("connection strategy failed to ping", zap.Int("strategy", i+1), zap.Error(err))
			db.Close()
			continue
		}

		log.Info("PostgreSQL connection established", zap.Int("strategy", i+1), zap.String("driver", driverName))
		return &PostgresDatabase{db: db, q: db, driver: driverName, log: log}, nil
	}

	return nil, fmt.Errorf("failed to connect to PostgreSQL with all strategies: %w", err)
}

// addConnectionParams 添加连接参数到DSN (URL or key=value form)
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}

	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return dsn + " " + strings.ReplaceAll(params, "&", " ")
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

// Row shapes for array columns.

type orgRow struct {
	ID        string         `db:"id"`
	Creator   string         `db:"creator"`
	Name      string         `db:"name"`
	Desc      string         `db:"descr"`
	Members   pq.StringArray `db:"members"`
	Tasklists pq.StringArray `db:"tasklists"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r orgRow) model() *models.Organization {
	return &models.Organization{
		ID:        r.ID,
		Creator:   r.Creator,
		Name:      r.Name,
		Desc:      r.Desc,
		Members:   models.CloneIDs(r.Members),
		Tasklists: models.CloneIDs(r.Tasklists),
		CreatedAt: r.CreatedAt,
	}
}

type tasklistRow struct {
	ID        string         `db:"id"`
	Title     string         `db:"title"`
	OrgID     string         `db:"org_id"`
	Tasks     pq.StringArray `db:"tasks"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r tasklistRow) model() *models.Tasklist {
	return &models.Tasklist{
		ID:        r.ID,
		Title:     r.Title,
		OrgID:     r.OrgID,
		Tasks:     models.CloneIDs(r.Tasks),
		CreatedAt: r.CreatedAt,
	}
}

type taskRow struct {
	ID         string         `db:"id"`
	Title      string         `db:"title"`
	Desc       string         `db:"descr"`
	Status     string         `db:"status"`
	CreatedAt  time.Time      `db:"created_at"`
	Due        *time.Time     `db:"due"`
	Assignees  pq.StringArray `db:"assignees"`
	TasklistID string         `db:"tasklist_id"`
}

func (r taskRow) model() *models.Task {
	return &models.Task{
		ID:         r.ID,
		Title:      r.Title,
		Desc:       r.Desc,
		Status:     models.TaskStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		Due:        r.Due,
		Assignees:  models.CloneIDs(r.Assignees),
		TasklistID: r.TasklistID,
	}
}

const (
	userColumns     = `id, email, password_hash, full_name, org_id, created_at`
	orgColumns      = `id, creator, name, descr, members, tasklists, created_at`
	tasklistColumns = `id, title, org_id, tasks, created_at`
	taskColumns     = `id, title, descr, status, created_at, due, assignees, tasklist_id`
)

// CreateUser 创建用户
func (p *PostgresDatabase) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Email, user.PasswordHash, user.FullName, user.OrgID, user.CreatedAt)
	if isUniqueViolation(err) {
		return models.Conflict("user", "email", nil, "email %s is already registered", user.Email)
	}
	return storeErr("create user", err)
}

// GetUserByID 根据ID获取用户
func (p *PostgresDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, p.q, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, notFoundOr("user", id, "get user", err)
	}
	return &u, nil
}

// GetUserByEmail 根据邮箱获取用户
func (p *PostgresDatabase) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, p.q, &u, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	if err != nil {
		return nil, notFoundOr("user", email, "get user by email", err)
	}
	return &u, nil
}

func (p *PostgresDatabase) AssignUserOrg(ctx context.Context, userID, orgID string) (*models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, p.q, &u, `
		UPDATE users SET org_id = $2
		WHERE id = $1 AND (org_id IS NULL OR org_id = $2)
		RETURNING `+userColumns, userID, orgID)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, storeErr("assign user org", err)
	}

	// Either the user is missing or already belongs elsewhere.
	current, gerr := p.GetUserByID(ctx, userID)
	if gerr != nil {
		return nil, gerr
	}
	other := ""
	if current.OrgID != nil {
		other = *current.OrgID
	}
	return nil, models.Conflict("user", "org_id", []string{userID}, "user already belongs to organization %s", other)
}

func (p *PostgresDatabase) ReleaseUserOrg(ctx context.Context, userID, orgID string) (*models.User, error) {
	var u models.User
	err := sqlx.GetContext(ctx, p.q, &u, `
		UPDATE users SET org_id = CASE WHEN org_id = $2 THEN NULL ELSE org_id END
		WHERE id = $1
		RETURNING `+userColumns, userID, orgID)
	if err != nil {
		return nil, notFoundOr("user", userID, "release user org", err)
	}
	return &u, nil
}

// CreateOrganization 创建组织
func (p *PostgresDatabase) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	org.Members = models.UniqueIDs(org.Members)
	org.Tasklists = models.UniqueIDs(org.Tasklists)
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO organizations (`+orgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		org.ID, org.Creator, org.Name, org.Desc, pq.Array(org.Members), pq.Array(org.Tasklists), org.CreatedAt)
	if isUniqueViolation(err) {
		return models.Conflict("organization", "id", []string{org.ID}, "organization %s already exists", org.ID)
	}
	return storeErr("create organization", err)
}

func (p *PostgresDatabase) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	var row orgRow
	err := sqlx.GetContext(ctx, p.q, &row, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, orgID)
	if err != nil {
		return nil, notFoundOr("organization", orgID, "get organization", err)
	}
	return row.model(), nil
}

func (p *PostgresDatabase) AddOrganizationMember(ctx context.Context, orgID, userID string) (*models.Organization, error) {
	return p.updateOrg(ctx, "add organization member", orgID, `
		UPDATE organizations
		SET members = CASE WHEN $2::text = ANY(members) THEN members ELSE array_append(members, $2::text) END
		WHERE id = $1
		RETURNING `+orgColumns, userID)
}

func (p *PostgresDatabase) RemoveOrganizationMember(ctx context.Context, orgID, userID string) (*models.Organization, error) {
	return p.updateOrg(ctx, "remove organization member", orgID, `
		UPDATE organizations SET members = array_remove(members, $2::text)
		WHERE id = $1
		RETURNING `+orgColumns, userID)
}

func (p *PostgresDatabase) AddOrganizationTasklist(ctx context.Context, orgID, tasklistID string) (*models.Organization, error) {
	return p.updateOrg(ctx, "add organization tasklist", orgID, `
		UPDATE organizations
		SET tasklists = CASE WHEN $2::text = ANY(tasklists) THEN tasklists ELSE array_append(tasklists, $2::text) END
		WHERE id = $1
		RETURNING `+orgColumns, tasklistID)
}

func (p *PostgresDatabase) updateOrg(ctx context.Context, op, orgID, query string, arg interface{}) (*models.Organization, error) {
	var row orgRow
	if err := sqlx.GetContext(ctx, p.q, &row, query, orgID, arg); err != nil {
		return nil, notFoundOr("organization", orgID, op, err)
	}
	return row.model(), nil
}

// CreateTasklist 创建任务列表
func (p *PostgresDatabase) CreateTasklist(ctx context.Context, tl *models.Tasklist) error {
	if tl.ID == "" {
		tl.ID = uuid.New().String()
	}
	if tl.CreatedAt.IsZero() {
		tl.CreatedAt = time.Now().UTC()
	}
	tl.Tasks = models.UniqueIDs(tl.Tasks)
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO tasklists (`+tasklistColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		tl.ID, tl.Title, tl.OrgID, pq.Array(tl.Tasks), tl.CreatedAt)
	if isUniqueViolation(err) {
		return models.Conflict("tasklist", "id", []string{tl.ID}, "tasklist %s already exists", tl.ID)
	}
	return storeErr("create tasklist", err)
}

func (p *PostgresDatabase) GetTasklist(ctx context.Context, tasklistID string) (*models.Tasklist, error) {
	var row tasklistRow
	err := sqlx.GetContext(ctx, p.q, &row, `SELECT `+tasklistColumns+` FROM tasklists WHERE id = $1`, tasklistID)
	if err != nil {
		return nil, notFoundOr("tasklist", tasklistID, "get tasklist", err)
	}
	return row.model(), nil
}

func (p *PostgresDatabase) ListTasklistsByOrganization(ctx context.Context, orgID string) ([]models.Tasklist, error) {
	var rows []tasklistRow
	err := sqlx.SelectContext(ctx, p.q, &rows,
		`SELECT `+tasklistColumns+` FROM tasklists WHERE org_id = $1 ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, storeErr("list tasklists", err)
	}
	out := make([]models.Tasklist, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.model())
	}
	return out, nil
}

func (p *PostgresDatabase) AddTasklistTask(ctx context.Context, tasklistID, taskID string) (*models.Tasklist, error) {
	var row tasklistRow
	err := sqlx.GetContext(ctx, p.q, &row, `
		UPDATE tasklists
		SET tasks = CASE WHEN $2::text = ANY(tasks) THEN tasks ELSE array_append(tasks, $2::text) END
		WHERE id = $1
		RETURNING `+tasklistColumns, tasklistID, taskID)
	if err != nil {
		return nil, notFoundOr("tasklist", tasklistID, "add tasklist task", err)
	}
	return row.model(), nil
}

// CreateTask 创建任务
func (p *PostgresDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.Assignees = models.UniqueIDs(task.Assignees)
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.Title, task.Desc, string(task.Status), task.CreatedAt, task.Due, pq.Array(task.Assignees), task.TasklistID)
	if isUniqueViolation(err) {
		return models.Conflict("task", "id", []string{task.ID}, "task %s already exists", task.ID)
	}
	return storeErr("create task", err)
}

func (p *PostgresDatabase) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, p.q, &row, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return nil, notFoundOr("task", taskID, "get task", err)
	}
	return row.model(), nil
}

func (p *PostgresDatabase) ListTasksByTasklist(ctx context.Context, tasklistID string) ([]models.Task, error) {
	var rows []taskRow
	err := sqlx.SelectContext(ctx, p.q, &rows,
		`SELECT `+taskColumns+` FROM tasks WHERE tasklist_id = $1 ORDER BY created_at, id`, tasklistID)
	if err != nil {
		return nil, storeErr("list tasks", err)
	}
	out := make([]models.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.model())
	}
	return out, nil
}

func (p *PostgresDatabase) AddTaskAssignees(ctx context.Context, taskID string, userIDs []string) (*models.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, p.q, &row, `
		UPDATE tasks
		SET assignees = assignees || ARRAY(
			SELECT u FROM unnest($2::text[]) WITH ORDINALITY AS x(u, ord)
			WHERE u <> ALL(assignees)
			ORDER BY ord
		)
		WHERE id = $1
		RETURNING `+taskColumns, taskID, pq.Array(models.UniqueIDs(userIDs)))
	if err != nil {
		return nil, notFoundOr("task", taskID, "add task assignees", err)
	}
	return row.model(), nil
}

func (p *PostgresDatabase) RemoveTaskAssignee(ctx context.Context, taskID, userID string) (*models.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, p.q, &row, `
		UPDATE tasks SET assignees = array_remove(assignees, $2::text)
		WHERE id = $1
		RETURNING `+taskColumns, taskID, userID)
	if err != nil {
		return nil, notFoundOr("task", taskID, "remove task assignee", err)
	}
	return row.model(), nil
}

func (p *PostgresDatabase) RemoveAssigneeFromTasklists(ctx context.Context, tasklistIDs []string, userID string) (int, error) {
	if len(tasklistIDs) == 0 {
		return 0, nil
	}
	res, err := p.q.ExecContext(ctx, `
		UPDATE tasks SET assignees = array_remove(assignees, $2::text)
		WHERE tasklist_id = ANY($1::text[]) AND $2::text = ANY(assignees)`,
		pq.Array(tasklistIDs), userID)
	if err != nil {
		return 0, storeErr("remove assignee from tasklists", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("remove assignee from tasklists", err)
	}
	return int(n), nil
}

func (p *PostgresDatabase) SetTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, p.q, &row,
		`UPDATE tasks SET status = $2 WHERE id = $1 RETURNING `+taskColumns, taskID, string(status))
	if err != nil {
		return nil, notFoundOr("task", taskID, "set task status", err)
	}
	return row.model(), nil
}

// WithTx runs fn inside a SQL transaction. Nested calls reuse the open transaction.
func (p *PostgresDatabase) WithTx(ctx context.Context, fn func(tx DatabaseInterface) error) error {
	if p.inTx {
		return fn(p)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	txdb := &PostgresDatabase{db: p.db, q: tx, driver: p.driver, inTx: true, log: p.log}

	if err := fn(txdb); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.log.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return storeErr("commit transaction", tx.Commit())
}

// HealthCheck 健康检查
func (p *PostgresDatabase) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDatabase) Type() string {
	return "postgresql"
}

// Close 关闭连接
func (p *PostgresDatabase) Close() error {
	if p.inTx {
		return nil
	}
	return p.db.Close()
}

// notFoundOr maps sql.ErrNoRows to NOT_FOUND and anything else to a store error.
func notFoundOr(entity, id, op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotFound(entity, id)
	}
	return storeErr(op, err)
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := models.AsError(err); ok {
		return err
	}
	return models.StoreFailure(op, isTransient(err), err)
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return err != nil && pgCode(err) == "23505"
}

// isTransient covers lost connections, serialization failures, deadlocks and admin shutdowns.
func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	code := pgCode(err)
	switch {
	case strings.HasPrefix(code, "08"):
		return true
	case code == "40001", code == "40P01", code == "57P01":
		return true
	}
	return false
}
