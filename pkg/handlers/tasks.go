package handlers

import (
	"context"
	"net/http"

	"orgtask-backend/pkg/middleware"
	"orgtask-backend/pkg/models"
	"orgtask-backend/pkg/services"
	"orgtask-backend/pkg/utils"

	chiRoute "github.com/go-chi/chi/v5"
)

type TaskAPI interface {
	CreateTask(ctx context.Context, tasklistID, actorID string, in services.NewTask) (*models.Task, error)
	AddAssignees(ctx context.Context, taskID, actorID string, userIDs []string) ([]string, error)
	RemoveAssignee(ctx context.Context, taskID, actorID, userID string) (*models.Task, error)
	ChangeStatus(ctx context.Context, taskID, actorID, newStatus string) (*models.Task, error)
}

type TasksHandler struct {
	tasks TaskAPI
}

func NewTasksHandler(tasks TaskAPI) *TasksHandler {
	return &TasksHandler{tasks: tasks}
}

// POST /api/tasklists/{tasklistID}/tasks
func (h *TasksHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req services.NewTask
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	task, err := h.tasks.CreateTask(r.Context(), chiRoute.URLParam(r, "tasklistID"), middleware.ActorID(r.Context()), req)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, task)
}

// POST /api/tasks/{taskID}/assignees
func (h *TasksHandler) AddAssignees(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	taskID := chiRoute.URLParam(r, "taskID")
	assignees, err := h.tasks.AddAssignees(r.Context(), taskID, middleware.ActorID(r.Context()), req.UserIDs)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"task_id":   taskID,
		"assignees": assignees,
	})
}

// DELETE /api/tasks/{taskID}/assignees/{userID}
func (h *TasksHandler) RemoveAssignee(w http.ResponseWriter, r *http.Request) {
	task, err := h.tasks.RemoveAssignee(r.Context(),
		chiRoute.URLParam(r, "taskID"), middleware.ActorID(r.Context()), chiRoute.URLParam(r, "userID"))
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}

// PUT /api/tasks/{taskID}/status
func (h *TasksHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	task, err := h.tasks.ChangeStatus(r.Context(), chiRoute.URLParam(r, "taskID"), middleware.ActorID(r.Context()), req.Status)
	if err != nil {
		utils.WriteAppError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, task)
}
