package domain

import (
	"slices"
	"time"
)

// Status is the lifecycle column a task lives in.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// Statuses lists every column in board order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", Validationf("unknown status %q", raw)
	}
	return s, nil
}

// Priority is a display-only urgency marker.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

func (p Priority) Valid() bool {
	return slices.Contains(priorities, p)
}

// ParsePriority converts a raw string into a Priority.
func ParsePriority(raw string) (Priority, error) {
	p := Priority(raw)
	if !p.Valid() {
		return "", Validationf("unknown priority %q", raw)
	}
	return p, nil
}

// MaxTitleLength bounds task titles.
const MaxTitleLength = 200

// Task is a single board card.
type Task struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         Status         `json:"status"`
	Priority       Priority       `json:"priority"`
	Tags           []string       `json:"tags"`
	Assignee       string         `json:"assignee,omitempty"`
	DueDate        *time.Time     `json:"due_date,omitempty"`
	EstimatedHours *float64       `json:"estimated_hours,omitempty"`
	ActualHours    *float64       `json:"actual_hours,omitempty"`
	ParentID       string         `json:"parent_id,omitempty"`
	Position       int            `json:"position"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Content        string         `json:"content,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (t Task) Clone() Task {
	out := t
	if t.Tags != nil {
		out.Tags = append([]string{}, t.Tags...)
	}
	if t.DueDate != nil {
		d := *t.DueDate
		out.DueDate = &d
	}
	if t.EstimatedHours != nil {
		h := *t.EstimatedHours
		out.EstimatedHours = &h
	}
	if t.ActualHours != nil {
		h := *t.ActualHours
		out.ActualHours = &h
	}
	if t.Extra != nil {
		out.Extra = make(map[string]any, len(t.Extra))
		for k, v := range t.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Touch sets UpdatedAt, never letting it fall behind CreatedAt.
func (t *Task) Touch(now time.Time) {
	now = now.UTC()
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	t.UpdatedAt = now
}
