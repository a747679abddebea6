package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"kanban-api/board"
	"kanban-api/domain"
	"kanban-api/ordering"
	"kanban-api/storage"
)

type memoryArchive struct {
	saved []domain.Report
	err   error
}

func (m *memoryArchive) Save(_ context.Context, r domain.Report) error {
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, r)
	return nil
}

func newBoard(t *testing.T) *board.Service {
	t.Helper()
	logger, _ := test.NewNullLogger()
	fs, err := storage.OpenFileStore(t.TempDir(), storage.WithLogger(logger))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return board.NewService(fs, ordering.New(), board.WithLogger(logger))
}

func TestAnalyzeWritesSectionAndArchives(t *testing.T) {
	svc := newBoard(t)
	ctx := context.Background()
	task, err := svc.CreateTask(ctx, domain.CreateInput{Title: "Ship release", Tags: []string{"ops"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	provider := &stubProvider{name: "stub", text: "Looks good."}
	archive := &memoryArchive{}
	logger, _ := test.NewNullLogger()
	an := NewAnalyzer(svc, NewChain(logger, provider), WithArchive(archive), WithTimeout(time.Second), WithLogger(logger))

	updated, report, err := an.Analyze(ctx, task.ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if report.Provider != "stub" || report.Content != "Looks good." || report.TaskID != task.ID {
		t.Fatalf("unexpected report %#v", report)
	}
	if !strings.Contains(updated.Content, "## AI analysis\n\nLooks good.\n") {
		t.Fatalf("expected analysis section, got %q", updated.Content)
	}
	if !strings.Contains(updated.Content, "## Requirements") {
		t.Fatalf("expected original body to be kept, got %q", updated.Content)
	}
	if len(archive.saved) != 1 {
		t.Fatalf("expected report to be archived")
	}

	provider.text = "Second pass."
	updated, _, err = an.Analyze(ctx, task.ID)
	if err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if strings.Count(updated.Content, "## AI analysis") != 1 || !strings.Contains(updated.Content, "Second pass.") {
		t.Fatalf("expected section to be replaced, got %q", updated.Content)
	}

	stored, err := svc.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Content != updated.Content || stored.Position != 0 || stored.Status != domain.StatusTodo {
		t.Fatalf("stored task differs from analysis result: %#v", stored)
	}
}

func TestAnalyzeProviderFailureLeavesTaskUntouched(t *testing.T) {
	svc := newBoard(t)
	ctx := context.Background()
	task, err := svc.CreateTask(ctx, domain.CreateInput{Title: "Flaky", Content: "body"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	an := NewAnalyzer(svc, NewChain(nil, &stubProvider{name: "down", err: errors.New("503")}))
	if _, _, err := an.Analyze(ctx, task.ID); !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	stored, _ := svc.GetTask(ctx, task.ID)
	if stored.Content != "body" {
		t.Fatalf("task changed after failed analysis: %#v", stored)
	}
}

func TestAnalyzeArchiveErrorIsNotFatal(t *testing.T) {
	svc := newBoard(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, domain.CreateInput{Title: "Archive down"})

	logger, hook := test.NewNullLogger()
	an := NewAnalyzer(svc, NewChain(logger, &stubProvider{name: "stub", text: "ok"}),
		WithArchive(&memoryArchive{err: errors.New("table unavailable")}), WithLogger(logger))
	if _, _, err := an.Analyze(ctx, task.ID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Message == "failed to archive report" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected archive failure to be logged")
	}
}

func TestAnalyzeUnknownTask(t *testing.T) {
	an := NewAnalyzer(newBoard(t), NewChain(nil, &stubProvider{name: "stub", text: "ok"}))
	if _, _, err := an.Analyze(context.Background(), "task-missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBuildPromptSkipsPreviousAnalysis(t *testing.T) {
	hours := 3.5
	due := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	prompt := BuildPrompt(domain.Task{
		Title:          "Fix login",
		Status:         domain.StatusInProgress,
		Priority:       domain.PriorityHigh,
		Assignee:       "sam",
		Tags:           []string{"auth", "bug"},
		DueDate:        &due,
		EstimatedHours: &hours,
		Content:        "# Fix login\n\n## AI analysis\n\nold text\n\n## Notes\n\nkeep me\n",
	})
	for _, want := range []string{"Title: Fix login", "Status: in_progress", "Tags: auth, bug", "Due: 2025-06-01", "Estimated hours: 3.5", "keep me"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "old text") {
		t.Fatalf("prompt should not include previous analysis:\n%s", prompt)
	}
}
