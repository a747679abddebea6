package board

import (
	"strings"
)

// DefaultBody is the markdown skeleton written for tasks created without content.
func DefaultBody(title, description string) string {
	if strings.TrimSpace(description) == "" {
		description = "Task description..."
	}
	var b strings.Builder
	b.WriteString("# " + title + "\n\n")
	b.WriteString("## Description\n\n")
	b.WriteString(description + "\n\n")
	b.WriteString("## Requirements\n\n")
	b.WriteString("- [ ] Requirement 1\n")
	b.WriteString("- [ ] Requirement 2\n\n")
	b.WriteString("## Notes\n\n")
	b.WriteString("Additional notes...\n")
	return b.String()
}

// SetSection replaces the text under a second-level heading, appending the
// section when the body has none.
func SetSection(body, heading, text string) string {
	marker := "## " + heading
	text = strings.TrimSpace(text)
	section := marker + "\n\n" + text + "\n"

	start := -1
	if strings.HasPrefix(body, marker+"\n") {
		start = 0
	} else if i := strings.Index(body, "\n"+marker+"\n"); i >= 0 {
		start = i + 1
	}
	if start < 0 {
		trimmed := strings.TrimRight(body, "\n")
		if trimmed == "" {
			return section
		}
		return trimmed + "\n\n" + section
	}

	rest := body[start+len(marker):]
	if next := strings.Index(rest, "\n## "); next >= 0 {
		return body[:start] + section + rest[next:]
	}
	return body[:start] + section
}
