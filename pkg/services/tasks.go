package services

import (
	"context"
	"strings"
	"time"

	"orgtask-backend/pkg/database"
	"orgtask-backend/pkg/models"

	"go.uber.org/zap"
)

// TaskEngine owns task creation, the assignee set and status transitions.
type TaskEngine struct {
	*core
	members *MembershipManager
}

// NewTask is the input for CreateTask. An empty Status means open.
type NewTask struct {
	Title  string     `json:"title"`
	Desc   string     `json:"desc"`
	Status string     `json:"status"`
	Due    *time.Time `json:"due"`
}

// CreateTask adds a task to tasklistID. The actor must be a member of the owning organization.
func (e *TaskEngine) CreateTask(ctx context.Context, tasklistID, actorID string, in NewTask) (*models.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, models.Validation("title", "title is required")
	}
	status := models.StatusOpen
	if strings.TrimSpace(in.Status) != "" {
		parsed, err := models.ParseTaskStatus(in.Status)
		if err != nil {
			return nil, err
		}
		status = parsed
	}

	tl, err := call(ctx, e.direct(), "get tasklist", func(db database.DatabaseInterface) (*models.Tasklist, error) {
		return db.GetTasklist(ctx, tasklistID)
	})
	if err != nil {
		return nil, err
	}
	if err := e.requireMember(ctx, tl.OrgID, actorID); err != nil {
		return nil, err
	}

	task := &models.Task{
		Title:      title,
		Desc:       strings.TrimSpace(in.Desc),
		Status:     status,
		Due:        in.Due,
		Assignees:  []string{},
		TasklistID: tl.ID,
	}
	err = e.run(ctx, func(s session) error {
		if err := insert(ctx, s, "create task", func(db database.DatabaseInterface) error {
			return db.CreateTask(ctx, task)
		}, func(db database.DatabaseInterface) error {
			_, err := db.GetTask(ctx, task.ID)
			return err
		}); err != nil {
			return err
		}
		if _, err := call(ctx, s, "add tasklist task", func(db database.DatabaseInterface) (*models.Tasklist, error) {
			return db.AddTasklistTask(ctx, tl.ID, task.ID)
		}); err != nil {
			return s.partial("create task", "add tasklist task", []string{"create task"}, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("task created", zap.String("task_id", task.ID), zap.String("tasklist_id", tl.ID))
	return task, nil
}

// AddAssignees unions userIDs into the task's assignees. Every id must belong to a current member
// of the owning organization; otherwise nothing changes and the offending ids are reported.
func (e *TaskEngine) AddAssignees(ctx context.Context, taskID, actorID string, userIDs []string) ([]string, error) {
	ids := models.UniqueIDs(trimAll(userIDs))
	if len(ids) == 0 {
		return nil, models.Validation("user_ids", "at least one user id is required")
	}

	task, org, err := e.loadTaskOrg(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !org.HasMember(actorID) {
		return nil, models.Forbidden("task", "only members of the organization can assign tasks")
	}

	var outsiders []string
	for _, id := range ids {
		if !org.HasMember(id) {
			outsiders = append(outsiders, id)
		}
	}
	if len(outsiders) > 0 {
		return nil, models.Conflict("task", "user_ids", outsiders, "users are not members of the organization")
	}

	updated, err := call(ctx, e.direct(), "add task assignees", func(db database.DatabaseInterface) (*models.Task, error) {
		return db.AddTaskAssignees(ctx, task.ID, ids)
	})
	if err != nil {
		return nil, err
	}
	return updated.Assignees, nil
}

// RemoveAssignee drops userID from the task's assignees. Removing a non-assignee is a no-op.
func (e *TaskEngine) RemoveAssignee(ctx context.Context, taskID, actorID, userID string) (*models.Task, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, models.Validation("user_id", "user_id is required")
	}

	task, org, err := e.loadTaskOrg(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !org.HasMember(actorID) {
		return nil, models.Forbidden("task", "only members of the organization can change assignees")
	}

	return call(ctx, e.direct(), "remove task assignee", func(db database.DatabaseInterface) (*models.Task, error) {
		return db.RemoveTaskAssignee(ctx, task.ID, userID)
	})
}

// ChangeStatus sets a new status. Only assignees may do so, and that check comes before the
// status label is validated.
func (e *TaskEngine) ChangeStatus(ctx context.Context, taskID, actorID, newStatus string) (*models.Task, error) {
	s := e.direct()
	task, err := call(ctx, s, "get task", func(db database.DatabaseInterface) (*models.Task, error) {
		return db.GetTask(ctx, taskID)
	})
	if err != nil {
		return nil, err
	}
	if !task.IsAssignee(actorID) {
		return nil, models.Forbidden("task", "only assignees can change the status")
	}

	status, err := models.ParseTaskStatus(newStatus)
	if err != nil {
		return nil, err
	}

	updated, err := call(ctx, s, "set task status", func(db database.DatabaseInterface) (*models.Task, error) {
		return db.SetTaskStatus(ctx, task.ID, status)
	})
	if err != nil {
		return nil, err
	}

	e.log.Debug("task status changed",
		zap.String("task_id", task.ID), zap.String("from", string(task.Status)), zap.String("to", string(status)))
	return updated, nil
}

func (e *TaskEngine) loadTaskOrg(ctx context.Context, taskID string) (*models.Task, *models.Organization, error) {
	s := e.direct()
	task, err := call(ctx, s, "get task", func(db database.DatabaseInterface) (*models.Task, error) {
		return db.GetTask(ctx, taskID)
	})
	if err != nil {
		return nil, nil, err
	}
	tl, err := call(ctx, s, "get tasklist", func(db database.DatabaseInterface) (*models.Tasklist, error) {
		return db.GetTasklist(ctx, task.TasklistID)
	})
	if err != nil {
		return nil, nil, err
	}
	org, err := call(ctx, s, "get organization", func(db database.DatabaseInterface) (*models.Organization, error) {
		return db.GetOrganization(ctx, tl.OrgID)
	})
	if err != nil {
		return nil, nil, err
	}
	return task, org, nil
}

func (e *TaskEngine) requireMember(ctx context.Context, orgID, actorID string) error {
	ok, err := e.members.IsMember(ctx, orgID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return models.Forbidden("organization", "only members of the organization can do this")
	}
	return nil
}

func trimAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, strings.TrimSpace(id))
	}
	return out
}
