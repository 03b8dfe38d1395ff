package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"orgtask-backend/pkg/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LocalDatabase 本地数据库实现
//
// Records live in memory behind one mutex. When dataDir is set every committed mutation is
// written back as one JSON file per table.
type LocalDatabase struct {
	mu      *sync.Mutex
	state   *localState
	dataDir string
	inTx    bool
}

type localState struct {
	Users     map[string]*models.User         `json:"users"`
	Orgs      map[string]*models.Organization `json:"organizations"`
	Tasklists map[string]*models.Tasklist     `json:"tasklists"`
	Tasks     map[string]*models.Task         `json:"tasks"`
}

// localUser keeps the password hash that models.User hides from JSON.
type localUser struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

func newLocalState() *localState {
	return &localState{
		Users:     make(map[string]*models.User),
		Orgs:      make(map[string]*models.Organization),
		Tasklists: make(map[string]*models.Tasklist),
		Tasks:     make(map[string]*models.Task),
	}
}

// NewLocalDatabase 创建本地数据库实例. An empty dataDir keeps everything in memory.
func NewLocalDatabase(dataDir string) (*LocalDatabase, error) {
	db := &LocalDatabase{
		mu:      &sync.Mutex{},
		state:   newLocalState(),
		dataDir: dataDir,
	}
	if dataDir == "" {
		return db, nil
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		// 只读文件系统中退回到临时目录
		fallback := filepath.Join(os.TempDir(), "orgtask-data")
		zap.L().Warn("failed to create data directory, falling back",
			zap.String("data_dir", dataDir), zap.String("fallback", fallback), zap.Error(err))
		if err := os.MkdirAll(fallback, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		db.dataDir = fallback
	}

	if err := db.load(); err != nil {
		return nil, err
	}
	return db, nil
}

// NewMemoryDatabase returns a LocalDatabase that never touches disk.
func NewMemoryDatabase() *LocalDatabase {
	db, _ := NewLocalDatabase("")
	return db
}

func (db *LocalDatabase) lock() {
	if !db.inTx {
		db.mu.Lock()
	}
}

func (db *LocalDatabase) unlock() {
	if !db.inTx {
		db.mu.Unlock()
	}
}

// snapshot copies the state before a mutation that commit may have to undo. Nothing is copied
// inside a transaction or for a memory-only store.
func (db *LocalDatabase) snapshot() *localState {
	if db.inTx || db.dataDir == "" {
		return nil
	}
	return db.state.clone()
}

// commit persists the state after a mutation outside of a transaction. A failed write puts
// saved back so memory never runs ahead of disk.
func (db *LocalDatabase) commit(saved *localState) error {
	if db.inTx {
		return nil
	}
	if err := db.persist(); err != nil {
		if saved != nil {
			*db.state = *saved
		}
		return err
	}
	return nil
}

// CreateUser 创建用户
func (db *LocalDatabase) CreateUser(ctx context.Context, user *models.User) error {
	db.lock()
	defer db.unlock()

	for _, u := range db.state.Users {
		if u.Email == user.Email {
			return models.Conflict("user", "email", nil, "email %s is already registered", user.Email)
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if _, ok := db.state.Users[user.ID]; ok {
		return models.Conflict("user", "id", []string{user.ID}, "user %s already exists", user.ID)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	saved := db.snapshot()
	db.state.Users[user.ID] = cloneUser(user)
	return db.commit(saved)
}

// GetUserByID 根据ID获取用户
func (db *LocalDatabase) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	db.lock()
	defer db.unlock()

	u, ok := db.state.Users[id]
	if !ok {
		return nil, models.NotFound("user", id)
	}
	return cloneUser(u), nil
}

// GetUserByEmail 根据邮箱获取用户
func (db *LocalDatabase) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	db.lock()
	defer db.unlock()

	for _, u := range db.state.Users {
		if u.Email == email {
			return cloneUser(u), nil
		}
	}
	return nil, models.NotFound("user", email)
}

func (db *LocalDatabase) AssignUserOrg(ctx context.Context, userID, orgID string) (*models.User, error) {
	db.lock()
	defer db.unlock()

	u, ok := db.state.Users[userID]
	if !ok {
		return nil, models.NotFound("user", userID)
	}
	if u.OrgID != nil && *u.OrgID != orgID {
		return nil, models.Conflict("user", "org_id", []string{userID}, "user already belongs to organization %s", *u.OrgID)
	}
	saved := db.snapshot()
	id := orgID
	u.OrgID = &id
	if err := db.commit(saved); err != nil {
		return nil, err
	}
	return cloneUser(u), nil
}

func (db *LocalDatabase) ReleaseUserOrg(ctx context.Context, userID, orgID string) (*models.User, error) {
	db.lock()
	defer db.unlock()

	u, ok := db.state.Users[userID]
	if !ok {
		return nil, models.NotFound("user", userID)
	}
	if u.OrgID != nil && *u.OrgID == orgID {
		saved := db.snapshot()
		u.OrgID = nil
		if err := db.commit(saved); err != nil {
			return nil, err
		}
	}
	return cloneUser(u), nil
}

// CreateOrganization 创建组织
func (db *LocalDatabase) CreateOrganization(ctx context.Context, org *models.Organization) error {
	db.lock()
	defer db.unlock()

	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if _, ok := db.state.Orgs[org.ID]; ok {
		return models.Conflict("organization", "id", []string{org.ID}, "organization %s already exists", org.ID)
	}
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	org.Members = models.UniqueIDs(org.Members)
	org.Tasklists = models.UniqueIDs(org.Tasklists)
	saved := db.snapshot()
	db.state.Orgs[org.ID] = cloneOrg(org)
	return db.commit(saved)
}

func (db *LocalDatabase) GetOrganization(ctx context.Context, orgID string) (*models.Organization, error) {
	db.lock()
	defer db.unlock()

	o, ok := db.state.Orgs[orgID]
	if !ok {
		return nil, models.NotFound("organization", orgID)
	}
	return cloneOrg(o), nil
}

func (db *LocalDatabase) AddOrganizationMember(ctx context.Context, orgID, userID string) (*models.Organization, error) {
	return db.updateOrg(orgID, func(o *models.Organization) {
		o.Members = models.UnionIDs(o.Members, []string{userID})
	})
}

func (db *LocalDatabase) RemoveOrganizationMember(ctx context.Context, orgID, userID string) (*models.Organization, error) {
	return db.updateOrg(orgID, func(o *models.Organization) {
		o.Members = models.RemoveID(o.Members, userID)
	})
}

func (db *LocalDatabase) AddOrganizationTasklist(ctx context.Context, orgID, tasklistID string) (*models.Organization, error) {
	return db.updateOrg(orgID, func(o *models.Organization) {
		o.Tasklists = models.UnionIDs(o.Tasklists, []string{tasklistID})
	})
}

func (db *LocalDatabase) updateOrg(orgID string, apply func(o *models.Organization)) (*models.Organization, error) {
	db.lock()
	defer db.unlock()

	o, ok := db.state.Orgs[orgID]
	if !ok {
		return nil, models.NotFound("organization", orgID)
	}
	saved := db.snapshot()
	apply(o)
	if err := db.commit(saved); err != nil {
		return nil, err
	}
	return cloneOrg(o), nil
}

// CreateTasklist 创建任务列表
func (db *LocalDatabase) CreateTasklist(ctx context.Context, tl *models.Tasklist) error {
	db.lock()
	defer db.unlock()

	if tl.ID == "" {
		tl.ID = uuid.New().String()
	}
	if _, ok := db.state.Tasklists[tl.ID]; ok {
		return models.Conflict("tasklist", "id", []string{tl.ID}, "tasklist %s already exists", tl.ID)
	}
	if tl.CreatedAt.IsZero() {
		tl.CreatedAt = time.Now().UTC()
	}
	tl.Tasks = models.UniqueIDs(tl.Tasks)
	saved := db.snapshot()
	db.state.Tasklists[tl.ID] = cloneTasklist(tl)
	return db.commit(saved)
}

func (db *LocalDatabase) GetTasklist(ctx context.Context, tasklistID string) (*models.Tasklist, error) {
	db.lock()
	defer db.unlock()

	tl, ok := db.state.Tasklists[tasklistID]
	if !ok {
		return nil, models.NotFound("tasklist", tasklistID)
	}
	return cloneTasklist(tl), nil
}

func (db *LocalDatabase) ListTasklistsByOrganization(ctx context.Context, orgID string) ([]models.Tasklist, error) {
	db.lock()
	defer db.unlock()

	out := []models.Tasklist{}
	for _, tl := range db.state.Tasklists {
		if tl.OrgID == orgID {
			out = append(out, *cloneTasklist(tl))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (db *LocalDatabase) AddTasklistTask(ctx context.Context, tasklistID, taskID string) (*models.Tasklist, error) {
	db.lock()
	defer db.unlock()

	tl, ok := db.state.Tasklists[tasklistID]
	if !ok {
		return nil, models.NotFound("tasklist", tasklistID)
	}
	saved := db.snapshot()
	tl.Tasks = models.UnionIDs(tl.Tasks, []string{taskID})
	if err := db.commit(saved); err != nil {
		return nil, err
	}
	return cloneTasklist(tl), nil
}

// CreateTask 创建任务
func (db *LocalDatabase) CreateTask(ctx context.Context, task *models.Task) error {
	db.lock()
	defer db.unlock()

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if _, ok := db.state.Tasks[task.ID]; ok {
		return models.Conflict("task", "id", []string{task.ID}, "task %s already exists", task.ID)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.Assignees = models.UniqueIDs(task.Assignees)
	saved := db.snapshot()
	db.state.Tasks[task.ID] = cloneTask(task)
	return db.commit(saved)
}

func (db *LocalDatabase) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	db.lock()
	defer db.unlock()

	t, ok := db.state.Tasks[taskID]
	if !ok {
		return nil, models.NotFound("task", taskID)
	}
	return cloneTask(t), nil
}

func (db *LocalDatabase) ListTasksByTasklist(ctx context.Context, tasklistID string) ([]models.Task, error) {
	db.lock()
	defer db.unlock()

	out := []models.Task{}
	for _, t := range db.state.Tasks {
		if t.TasklistID == tasklistID {
			out = append(out, *cloneTask(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (db *LocalDatabase) AddTaskAssignees(ctx context.Context, taskID string, userIDs []string) (*models.Task, error) {
	return db.updateTask(taskID, func(t *models.Task) {
		t.Assignees = models.UnionIDs(t.Assignees, userIDs)
	})
}

func (db *LocalDatabase) RemoveTaskAssignee(ctx context.Context, taskID, userID string) (*models.Task, error) {
	return db.updateTask(taskID, func(t *models.Task) {
		t.Assignees = models.RemoveID(t.Assignees, userID)
	})
}

func (db *LocalDatabase) SetTaskStatus(ctx context.Context, taskID string, status models.TaskStatus) (*models.Task, error) {
	return db.updateTask(taskID, func(t *models.Task) {
		t.Status = status
	})
}

func (db *LocalDatabase) RemoveAssigneeFromTasklists(ctx context.Context, tasklistIDs []string, userID string) (int, error) {
	db.lock()
	defer db.unlock()

	saved := db.snapshot()
	changed := 0
	for _, t := range db.state.Tasks {
		if !models.ContainsID(tasklistIDs, t.TasklistID) || !t.IsAssignee(userID) {
			continue
		}
		t.Assignees = models.RemoveID(t.Assignees, userID)
		changed++
	}
	if changed > 0 {
		if err := db.commit(saved); err != nil {
			return 0, err
		}
	}
	return changed, nil
}

func (db *LocalDatabase) updateTask(taskID string, apply func(t *models.Task)) (*models.Task, error) {
	db.lock()
	defer db.unlock()

	t, ok := db.state.Tasks[taskID]
	if !ok {
		return nil, models.NotFound("task", taskID)
	}
	saved := db.snapshot()
	apply(t)
	if err := db.commit(saved); err != nil {
		return nil, err
	}
	return cloneTask(t), nil
}

// WithTx holds the store lock for the duration of fn and restores the previous state if fn fails.
func (db *LocalDatabase) WithTx(ctx context.Context, fn func(tx DatabaseInterface) error) error {
	if db.inTx {
		return fn(db)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	saved := db.state.clone()
	tx := &LocalDatabase{mu: db.mu, state: db.state, inTx: true}
	if err := fn(tx); err != nil {
		*db.state = *saved
		return err
	}
	if err := db.persist(); err != nil {
		*db.state = *saved
		return err
	}
	return nil
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck(ctx context.Context) error {
	if db.dataDir == "" {
		return nil
	}
	if _, err := os.Stat(db.dataDir); os.IsNotExist(err) {
		return fmt.Errorf("data directory does not exist: %s", db.dataDir)
	}
	return nil
}

func (db *LocalDatabase) Type() string {
	if db.dataDir == "" {
		return "memory"
	}
	return "local"
}

// Close 关闭连接（本地数据库无需关闭）
func (db *LocalDatabase) Close() error {
	return nil
}

// 私有辅助方法

var localTables = []string{"users", "organizations", "tasklists", "tasks"}

func (db *LocalDatabase) tableFilePath(table string) string {
	return filepath.Join(db.dataDir, table+".json")
}

func (db *LocalDatabase) load() error {
	for _, table := range localTables {
		data, err := os.ReadFile(db.tableFilePath(table))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", table, err)
		}

		var target interface{}
		var users map[string]*localUser
		switch table {
		case "users":
			target = &users
		case "organizations":
			target = &db.state.Orgs
		case "tasklists":
			target = &db.state.Tasklists
		case "tasks":
			target = &db.state.Tasks
		}
		if err := json.Unmarshal(data, target); err != nil {
			return fmt.Errorf("failed to decode %s: %w", table, err)
		}
		for id, u := range users {
			user := u.User
			user.PasswordHash = u.PasswordHash
			db.state.Users[id] = &user
		}
	}
	return nil
}

func (db *LocalDatabase) persist() error {
	if db.dataDir == "" {
		return nil
	}
	users := make(map[string]localUser, len(db.state.Users))
	for id, u := range db.state.Users {
		users[id] = localUser{User: *u, PasswordHash: u.PasswordHash}
	}
	tables := map[string]interface{}{
		"users":         users,
		"organizations": db.state.Orgs,
		"tasklists":     db.state.Tasklists,
		"tasks":         db.state.Tasks,
	}
	// 先写全部临时文件再逐个替换，避免半途失败留下不一致的表
	for _, table := range localTables {
		data, err := json.MarshalIndent(tables[table], "", "  ")
		if err != nil {
			return models.StoreFailure("encode "+table, false, err)
		}
		if err := os.WriteFile(db.tableFilePath(table)+".tmp", data, 0644); err != nil {
			return models.StoreFailure("write "+table, false, err)
		}
	}
	for _, table := range localTables {
		path := db.tableFilePath(table)
		if err := os.Rename(path+".tmp", path); err != nil {
			return models.StoreFailure("replace "+table, false, err)
		}
	}
	return nil
}

func (s *localState) clone() *localState {
	c := newLocalState()
	for id, u := range s.Users {
		c.Users[id] = cloneUser(u)
	}
	for id, o := range s.Orgs {
		c.Orgs[id] = cloneOrg(o)
	}
	for id, tl := range s.Tasklists {
		c.Tasklists[id] = cloneTasklist(tl)
	}
	for id, t := range s.Tasks {
		c.Tasks[id] = cloneTask(t)
	}
	return c
}

func cloneUser(u *models.User) *models.User {
	c := *u
	if u.OrgID != nil {
		id := *u.OrgID
		c.OrgID = &id
	}
	return &c
}

func cloneOrg(o *models.Organization) *models.Organization {
	c := *o
	c.Members = models.CloneIDs(o.Members)
	c.Tasklists = models.CloneIDs(o.Tasklists)
	return &c
}

func cloneTasklist(tl *models.Tasklist) *models.Tasklist {
	c := *tl
	c.Tasks = models.CloneIDs(tl.Tasks)
	return &c
}

func cloneTask(t *models.Task) *models.Task {
	c := *t
	c.Assignees = models.CloneIDs(t.Assignees)
	if t.Due != nil {
		due := *t.Due
		c.Due = &due
	}
	return &c
}
