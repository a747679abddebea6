package domain

import "time"

const (
	TaskCreated     = "task-created"
	TaskUpdated     = "task-updated"
	TaskMoved       = "task-moved"
	TaskDeleted     = "task-deleted"
	ColumnReordered = "column-reordered"
)

// Event describes a committed board mutation for downstream collaborators.
type Event struct {
	Type       string    `json:"type"`
	TaskID     string    `json:"taskId,omitempty"`
	Status     Status    `json:"status"`
	FromStatus Status    `json:"fromStatus,omitempty"`
	Position   int       `json:"position"`
	IDs        []string  `json:"ids,omitempty"`
	Task       *Task     `json:"task,omitempty"`
	Time       time.Time `json:"time"`
}

// Report is a generated free-text analysis attached to a task.
type Report struct {
	TaskID    string    `json:"taskId"`
	Provider  string    `json:"provider"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
