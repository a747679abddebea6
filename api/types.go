package api

import (
	"context"

	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

// Service is the task service as seen by the HTTP handlers.
type Service interface {
	CreateTask(ctx context.Context, in domain.CreateInput) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(ctx context.Context, filter domain.Filter) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.Patch) (domain.Task, error)
	MoveTask(ctx context.Context, id string, to domain.Status, position int) (domain.Task, error)
	ReorderColumn(ctx context.Context, st domain.Status, ids []string) error
	DeleteTask(ctx context.Context, id string) error
}

// Analyzer produces an AI report for a task and stores it in the task body.
type Analyzer interface {
	Analyze(ctx context.Context, id string) (domain.Task, domain.Report, error)
}

// ReportArchive lists previously generated reports.
type ReportArchive interface {
	List(ctx context.Context, taskID string) ([]domain.Report, error)
}

// Deduper remembers which task an idempotency key created.
type Deduper interface {
	// Claim reserves key. It returns the bound task id when the key was
	// already used, and claimed=true when the caller now owns it.
	Claim(ctx context.Context, key string) (taskID string, claimed bool, err error)
	// Bind records the task created under a claimed key.
	Bind(ctx context.Context, key, taskID string) error
	// Release drops a claim after a failed create so the client may retry.
	Release(ctx context.Context, key string) error
}

// Deps carries everything the handlers need. Only Service is required.
type Deps struct {
	Service  Service
	Analyzer Analyzer
	Reports  ReportArchive
	Deduper  Deduper
	Events   *Broker
	Logger   *log.Logger
	Version  string
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
	Total int           `json:"total"`
}

type moveRequest struct {
	Status   domain.Status `json:"status"`
	Position *int          `json:"position"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type analysisResponse struct {
	Task   domain.Task   `json:"task"`
	Report domain.Report `json:"report"`
}

type reportsResponse struct {
	Reports []domain.Report `json:"reports"`
}

type infoResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Status  string `json:"status"`
}
