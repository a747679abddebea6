package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"kanban-api/domain"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	dim    = color.New(color.Faint).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()

	boldRed    = color.New(color.Bold, color.FgRed).SprintFunc()
	boldYellow = color.New(color.Bold, color.FgYellow).SprintFunc()
)

var columnTitles = map[domain.Status]string{
	domain.StatusTodo:       "TO DO",
	domain.StatusInProgress: "IN PROGRESS",
	domain.StatusDone:       "DONE",
}

func priorityLabel(p domain.Priority) string {
	switch p {
	case domain.PriorityCritical:
		return boldRed("critical")
	case domain.PriorityHigh:
		return boldYellow("high")
	case domain.PriorityLow:
		return dim("low")
	default:
		return string(p)
	}
}

func renderColumn(w io.Writer, st domain.Status, tasks []domain.Task) {
	fmt.Fprintf(w, "%s %s\n", bold(columnTitles[st]), dim(fmt.Sprintf("(%d)", len(tasks))))
	if len(tasks) == 0 {
		fmt.Fprintln(w, dim("  (empty)"))
	}
	for _, t := range tasks {
		line := fmt.Sprintf("  %2d. %s %s [%s]", t.Position, cyan(t.ID), t.Title, priorityLabel(t.Priority))
		if t.Assignee != "" {
			line += " @" + t.Assignee
		}
		if len(t.Tags) > 0 {
			line += " " + yellow("#"+strings.Join(t.Tags, " #"))
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

func renderTask(w io.Writer, t domain.Task) {
	fmt.Fprintf(w, "%s %s\n", bold(t.Title), dim(t.ID))
	fmt.Fprintf(w, "status:   %s (position %d)\n", t.Status, t.Position)
	fmt.Fprintf(w, "priority: %s\n", priorityLabel(t.Priority))
	if t.Assignee != "" {
		fmt.Fprintf(w, "assignee: %s\n", t.Assignee)
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(w, "tags:     %s\n", strings.Join(t.Tags, ", "))
	}
	if t.DueDate != nil {
		fmt.Fprintf(w, "due:      %s\n", t.DueDate.Format("2006-01-02"))
	}
	fmt.Fprintf(w, "updated:  %s\n", t.UpdatedAt.Format("2006-01-02 15:04"))
	if t.Content != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.TrimRight(t.Content, "\n"))
	}
}
