package domain

import (
	"strings"
	"time"
)

// CreateInput carries the client-supplied fields of a new task. Identity,
// timestamps and position are assigned by the server.
type CreateInput struct {
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         Status     `json:"status,omitempty"`
	Priority       Priority   `json:"priority,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Assignee       string     `json:"assignee,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	ParentID       string     `json:"parent_id,omitempty"`
	Content        string     `json:"content,omitempty"`
}

// Normalize fills defaults and validates the input in place.
func (in *CreateInput) Normalize() error {
	in.Title = strings.TrimSpace(in.Title)
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if in.Status == "" {
		in.Status = StatusTodo
	}
	if !in.Status.Valid() {
		return Validationf("unknown status %q", in.Status)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return Validationf("unknown priority %q", in.Priority)
	}
	if err := validateHours("estimated_hours", in.EstimatedHours); err != nil {
		return err
	}
	in.Tags = dedupeTags(in.Tags)
	return nil
}

// Optional fields that a patch can reset through Patch.Clear.
const (
	FieldDueDate        = "due_date"
	FieldEstimatedHours = "estimated_hours"
	FieldActualHours    = "actual_hours"
	FieldParentID       = "parent_id"
)

// Patch is a partial update. Nil fields are left untouched; optional fields
// named in Clear are reset to empty.
type Patch struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Status         *Status    `json:"status,omitempty"`
	Priority       *Priority  `json:"priority,omitempty"`
	Tags           *[]string  `json:"tags,omitempty"`
	Assignee       *string    `json:"assignee,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	EstimatedHours *float64   `json:"estimated_hours,omitempty"`
	ActualHours    *float64   `json:"actual_hours,omitempty"`
	ParentID       *string    `json:"parent_id,omitempty"`
	Position       *int       `json:"position,omitempty"`
	Content        *string    `json:"content,omitempty"`
	Clear          []string   `json:"clear,omitempty"`
}

// Empty reports whether the patch carries no fields at all.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil && p.Priority == nil &&
		p.Tags == nil && p.Assignee == nil && p.DueDate == nil && p.EstimatedHours == nil &&
		p.ActualHours == nil && p.ParentID == nil && p.Position == nil && p.Content == nil &&
		len(p.Clear) == 0
}

// Validate checks every supplied field.
func (p Patch) Validate() error {
	if p.Empty() {
		return Validationf("no fields to update")
	}
	if p.Title != nil {
		if err := validateTitle(strings.TrimSpace(*p.Title)); err != nil {
			return err
		}
	}
	if p.Status != nil && !p.Status.Valid() {
		return Validationf("unknown status %q", *p.Status)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return Validationf("unknown priority %q", *p.Priority)
	}
	if p.Position != nil && *p.Position < 0 {
		return Validationf("position must be non-negative")
	}
	if err := validateHours("estimated_hours", p.EstimatedHours); err != nil {
		return err
	}
	if err := validateHours("actual_hours", p.ActualHours); err != nil {
		return err
	}
	for _, field := range p.Clear {
		var set bool
		switch field {
		case FieldDueDate:
			set = p.DueDate != nil
		case FieldEstimatedHours:
			set = p.EstimatedHours != nil
		case FieldActualHours:
			set = p.ActualHours != nil
		case FieldParentID:
			set = p.ParentID != nil
		default:
			return Validationf("field %q cannot be cleared", field)
		}
		if set {
			return Validationf("field %q is both set and cleared", field)
		}
	}
	return nil
}

// ApplyFields copies every field except status and position onto t.
func (p Patch) ApplyFields(t *Task) {
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Tags != nil {
		t.Tags = dedupeTags(*p.Tags)
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.DueDate != nil {
		d := p.DueDate.UTC()
		t.DueDate = &d
	}
	if p.EstimatedHours != nil {
		h := *p.EstimatedHours
		t.EstimatedHours = &h
	}
	if p.ActualHours != nil {
		h := *p.ActualHours
		t.ActualHours = &h
	}
	if p.ParentID != nil {
		t.ParentID = *p.ParentID
	}
	if p.Content != nil {
		t.Content = *p.Content
	}
	for _, field := range p.Clear {
		switch field {
		case FieldDueDate:
			t.DueDate = nil
		case FieldEstimatedHours:
			t.EstimatedHours = nil
		case FieldActualHours:
			t.ActualHours = nil
		case FieldParentID:
			t.ParentID = ""
		}
	}
}

// HasFields reports whether the patch changes anything besides status and position.
func (p Patch) HasFields() bool {
	q := p
	q.Status = nil
	q.Position = nil
	return !q.Empty()
}

func validateTitle(title string) error {
	if title == "" {
		return Validationf("title must not be empty")
	}
	if len([]rune(title)) > MaxTitleLength {
		return Validationf("title exceeds %d characters", MaxTitleLength)
	}
	return nil
}

func validateHours(field string, v *float64) error {
	if v != nil && *v < 0 {
		return Validationf("%s must be non-negative", field)
	}
	return nil
}

// dedupeTags drops blanks and repeats while keeping first-seen order.
func dedupeTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
