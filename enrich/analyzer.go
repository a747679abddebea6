package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"kanban-api/board"
	"kanban-api/domain"
)

// AnalysisHeading is the body section that holds the latest report.
const AnalysisHeading = "AI analysis"

// TaskService is the slice of the board service the analyzer needs.
type TaskService interface {
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.Patch) (domain.Task, error)
}

// Archive stores generated reports.
type Archive interface {
	Save(ctx context.Context, r domain.Report) error
}

type generator interface {
	Generate(ctx context.Context, prompt string) (text, provider string, err error)
}

// Analyzer writes a generated analysis into a task body.
type Analyzer struct {
	tasks   TaskService
	gen     generator
	archive Archive
	timeout time.Duration
	now     func() time.Time
	logger  *log.Logger
}

type AnalyzerOption func(*Analyzer)

func WithArchive(a Archive) AnalyzerOption {
	return func(an *Analyzer) { an.archive = a }
}

func WithTimeout(d time.Duration) AnalyzerOption {
	return func(an *Analyzer) { an.timeout = d }
}

func WithLogger(l *log.Logger) AnalyzerOption {
	return func(an *Analyzer) {
		if l != nil {
			an.logger = l
		}
	}
}

func NewAnalyzer(tasks TaskService, chain *Chain, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		tasks:  tasks,
		gen:    chain,
		now:    time.Now,
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze generates a report for the task and stores it under the analysis
// heading. The task is re-read from the service so concurrent edits made
// while the provider was running are kept.
func (a *Analyzer) Analyze(ctx context.Context, id string) (domain.Task, domain.Report, error) {
	task, err := a.tasks.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, domain.Report{}, err
	}

	genCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	text, provider, err := a.gen.Generate(genCtx, BuildPrompt(task))
	if err != nil {
		return domain.Task{}, domain.Report{}, fmt.Errorf("analyze %s: %w", id, err)
	}

	current, err := a.tasks.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, domain.Report{}, err
	}
	content := board.SetSection(current.Content, AnalysisHeading, text)
	updated, err := a.tasks.UpdateTask(ctx, id, domain.Patch{Content: &content})
	if err != nil {
		return domain.Task{}, domain.Report{}, err
	}

	report := domain.Report{TaskID: id, Provider: provider, Content: text, CreatedAt: a.now().UTC()}
	if a.archive != nil {
		if err := a.archive.Save(ctx, report); err != nil {
			a.logger.WithError(err).WithField("task_id", id).Warn("failed to archive report")
		}
	}
	a.logger.WithFields(log.Fields{"task_id": id, "provider": provider}).Info("task analyzed")
	return updated, report, nil
}

// BuildPrompt renders the task for a provider. Any previous analysis section
// is left out.
func BuildPrompt(t domain.Task) string {
	var b strings.Builder
	b.WriteString("Review the following task.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", t.Title)
	fmt.Fprintf(&b, "Status: %s\n", t.Status)
	fmt.Fprintf(&b, "Priority: %s\n", t.Priority)
	if t.Assignee != "" {
		fmt.Fprintf(&b, "Assignee: %s\n", t.Assignee)
	}
	if len(t.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(t.Tags, ", "))
	}
	if t.DueDate != nil {
		fmt.Fprintf(&b, "Due: %s\n", t.DueDate.UTC().Format("2006-01-02"))
	}
	if t.EstimatedHours != nil {
		fmt.Fprintf(&b, "Estimated hours: %g\n", *t.EstimatedHours)
	}
	if t.Description != "" {
		fmt.Fprintf(&b, "\nDescription:\n%s\n", t.Description)
	}
	if body := stripSection(t.Content, AnalysisHeading); strings.TrimSpace(body) != "" {
		fmt.Fprintf(&b, "\nBody:\n%s\n", strings.TrimSpace(body))
	}
	return b.String()
}

func stripSection(body, heading string) string {
	marker := "## " + heading + "\n"
	start := -1
	if strings.HasPrefix(body, marker) {
		start = 0
	} else if i := strings.Index(body, "\n"+marker); i >= 0 {
		start = i + 1
	}
	if start < 0 {
		return body
	}
	rest := body[start+len(marker):]
	if next := strings.Index(rest, "\n## "); next >= 0 {
		return body[:start] + rest[next+1:]
	}
	return body[:start]
}
