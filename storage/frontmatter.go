package storage

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"kanban-api/domain"
)

// TimeLayout is the canonical header date format (RFC 3339, always UTC).
const TimeLayout = time.RFC3339Nano

var (
	fence      = []byte("---\n")
	closeFence = []byte("\n---\n")
)

type recordHeader struct {
	ID             string         `yaml:"id"`
	Title          string         `yaml:"title"`
	Description    string         `yaml:"description,omitempty"`
	Status         string         `yaml:"status"`
	Priority       string         `yaml:"priority,omitempty"`
	CreatedAt      string         `yaml:"created_at"`
	UpdatedAt      string         `yaml:"updated_at,omitempty"`
	DueDate        string         `yaml:"due_date,omitempty"`
	Tags           []string       `yaml:"tags"`
	Assignee       string         `yaml:"assignee,omitempty"`
	EstimatedHours *float64       `yaml:"estimated_hours,omitempty"`
	ActualHours    *float64       `yaml:"actual_hours,omitempty"`
	ParentID       string         `yaml:"parent_id,omitempty"`
	Position       int            `yaml:"position"`
	Extra          map[string]any `yaml:",inline"`
}

var headerKeys = map[string]struct{}{
	"id": {}, "title": {}, "description": {}, "status": {}, "priority": {},
	"created_at": {}, "updated_at": {}, "due_date": {}, "tags": {}, "assignee": {},
	"estimated_hours": {}, "actual_hours": {}, "parent_id": {}, "position": {},
}

// EncodeRecord renders a task as a YAML front-matter header followed by its
// body verbatim.
func EncodeRecord(t domain.Task) ([]byte, error) {
	if t.ID == "" {
		return nil, fmt.Errorf("%w: missing id", domain.ErrMalformedRecord)
	}
	h := recordHeader{
		ID:             t.ID,
		Title:          t.Title,
		Description:    t.Description,
		Status:         string(t.Status),
		Priority:       string(t.Priority),
		CreatedAt:      formatTime(t.CreatedAt),
		UpdatedAt:      formatTime(t.UpdatedAt),
		Tags:           t.Tags,
		Assignee:       t.Assignee,
		EstimatedHours: t.EstimatedHours,
		ActualHours:    t.ActualHours,
		ParentID:       t.ParentID,
		Position:       t.Position,
	}
	if h.Tags == nil {
		h.Tags = []string{}
	}
	if t.DueDate != nil {
		h.DueDate = formatTime(*t.DueDate)
	}
	for k, v := range t.Extra {
		if _, known := headerKeys[k]; known {
			continue
		}
		if h.Extra == nil {
			h.Extra = make(map[string]any, len(t.Extra))
		}
		h.Extra[k] = v
	}

	data, err := yaml.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + len(t.Content) + 16)
	buf.Write(fence)
	buf.Write(data)
	buf.Write(fence)
	buf.WriteString("\n")
	buf.WriteString(t.Content)
	return buf.Bytes(), nil
}

// DecodeRecord parses a record produced by EncodeRecord (or written by hand
// in the same shape).
func DecodeRecord(data []byte) (domain.Task, error) {
	header, body, err := splitFrontMatter(data)
	if err != nil {
		return domain.Task{}, err
	}
	var h recordHeader
	if err := yaml.Unmarshal(header, &h); err != nil {
		return domain.Task{}, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err)
	}
	return h.toTask(string(body))
}

func (h recordHeader) toTask(body string) (domain.Task, error) {
	switch {
	case h.ID == "":
		return domain.Task{}, fmt.Errorf("%w: missing id", domain.ErrMalformedRecord)
	case h.Title == "":
		return domain.Task{}, fmt.Errorf("%w: %s missing title", domain.ErrMalformedRecord, h.ID)
	case h.Status == "":
		return domain.Task{}, fmt.Errorf("%w: %s missing status", domain.ErrMalformedRecord, h.ID)
	case h.CreatedAt == "":
		return domain.Task{}, fmt.Errorf("%w: %s missing created_at", domain.ErrMalformedRecord, h.ID)
	}
	status := domain.Status(h.Status)
	if !status.Valid() {
		return domain.Task{}, fmt.Errorf("%w: %s has unknown status %q", domain.ErrMalformedRecord, h.ID, h.Status)
	}
	priority := domain.PriorityMedium
	if h.Priority != "" {
		priority = domain.Priority(h.Priority)
		if !priority.Valid() {
			return domain.Task{}, fmt.Errorf("%w: %s has unknown priority %q", domain.ErrMalformedRecord, h.ID, h.Priority)
		}
	}
	if h.Position < 0 {
		return domain.Task{}, fmt.Errorf("%w: %s has negative position", domain.ErrMalformedRecord, h.ID)
	}

	created, err := parseTime("created_at", h.CreatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	updated := created
	if h.UpdatedAt != "" {
		if updated, err = parseTime("updated_at", h.UpdatedAt); err != nil {
			return domain.Task{}, err
		}
	}
	t := domain.Task{
		ID:             h.ID,
		Title:          h.Title,
		Description:    h.Description,
		Status:         status,
		Priority:       priority,
		Tags:           h.Tags,
		Assignee:       h.Assignee,
		EstimatedHours: h.EstimatedHours,
		ActualHours:    h.ActualHours,
		ParentID:       h.ParentID,
		Position:       h.Position,
		CreatedAt:      created,
		UpdatedAt:      updated,
		Content:        body,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if h.DueDate != "" {
		due, err := parseTime("due_date", h.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		t.DueDate = &due
	}
	if len(h.Extra) > 0 {
		t.Extra = h.Extra
	}
	return t, nil
}

func splitFrontMatter(data []byte) ([]byte, []byte, error) {
	normalized := bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, fence) {
		return nil, nil, fmt.Errorf("%w: missing front matter", domain.ErrMalformedRecord)
	}
	rest := normalized[len(fence):]
	idx := bytes.Index(rest, closeFence)
	if idx < 0 {
		if bytes.HasSuffix(rest, []byte("\n---")) {
			return rest[:len(rest)-3], nil, nil
		}
		return nil, nil, fmt.Errorf("%w: unterminated front matter", domain.ErrMalformedRecord)
	}
	header := rest[:idx+1]
	body := rest[idx+len(closeFence):]
	body = bytes.TrimPrefix(body, []byte("\n"))
	return header, body, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func parseTime(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s %q", domain.ErrInvalidDate, field, value)
	}
	return t.UTC(), nil
}
