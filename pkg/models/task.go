package models

import (
	"strings"
	"time"
)

// TaskStatus is the closed set of task lifecycle labels.
type TaskStatus string

const (
	StatusOpen       TaskStatus = "open"
	StatusInProgress TaskStatus = "in-progress"
	StatusDone       TaskStatus = "done"
)

// TaskStatuses lists every recognized label in display order.
var TaskStatuses = []TaskStatus{StatusOpen, StatusInProgress, StatusDone}

// Valid reports whether s is a recognized label.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ParseTaskStatus normalizes raw input (case, surrounding space, "in_progress") into a TaskStatus.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	status := TaskStatus(s)
	if !status.Valid() {
		return "", Validation("status", "unrecognized status %q (expected open, in-progress or done)", raw)
	}
	return status, nil
}

// Task is a unit of work inside a tasklist.
type Task struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Desc       string     `json:"desc"`
	Status     TaskStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	Due        *time.Time `json:"due"`
	Assignees  []string   `json:"assignees"`
	TasklistID string     `json:"tasklist_id"`
}

// IsAssignee reports whether userID is assigned to the task.
func (t *Task) IsAssignee(userID string) bool {
	return ContainsID(t.Assignees, userID)
}
