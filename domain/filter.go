package domain

import (
	"slices"
	"strings"
)

// Filter narrows a task listing. Zero-valued fields match everything.
type Filter struct {
	Status   Status   `json:"status,omitempty"`
	Priority Priority `json:"priority,omitempty"`
	Assignee string   `json:"assignee,omitempty"`
	// Tags matches tasks carrying any of the listed tags.
	Tags []string `json:"tags,omitempty"`
	// Search is a case-insensitive substring of the title.
	Search string `json:"search,omitempty"`
}

// Matches reports whether t passes every populated criterion.
func (f Filter) Matches(t Task) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Assignee != "" && t.Assignee != f.Assignee {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(tag string) bool { return slices.Contains(t.Tags, tag) }) {
		return false
	}
	if q := strings.TrimSpace(f.Search); q != "" && !strings.Contains(strings.ToLower(t.Title), strings.ToLower(q)) {
		return false
	}
	return true
}

// Apply returns the matching tasks in their original order without
// touching the input slice.
func (f Filter) Apply(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if f.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// Validate rejects unknown enum values.
func (f Filter) Validate() error {
	if f.Status != "" && !f.Status.Valid() {
		return Validationf("unknown status %q", f.Status)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return Validationf("unknown priority %q", f.Priority)
	}
	return nil
}
