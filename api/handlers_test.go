package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"kanban-api/domain"
	"kanban-api/enrich"
)

type mockService struct {
	createFn  func(ctx context.Context, in domain.CreateInput) (domain.Task, error)
	getFn     func(ctx context.Context, id string) (domain.Task, error)
	listFn    func(ctx context.Context, f domain.Filter) ([]domain.Task, error)
	updateFn  func(ctx context.Context, id string, p domain.Patch) (domain.Task, error)
	moveFn    func(ctx context.Context, id string, to domain.Status, pos int) (domain.Task, error)
	reorderFn func(ctx context.Context, st domain.Status, ids []string) error
	deleteFn  func(ctx context.Context, id string) error
}

func (m *mockService) CreateTask(ctx context.Context, in domain.CreateInput) (domain.Task, error) {
	return m.createFn(ctx, in)
}

func (m *mockService) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return m.getFn(ctx, id)
}

func (m *mockService) ListTasks(ctx context.Context, f domain.Filter) ([]domain.Task, error) {
	return m.listFn(ctx, f)
}

func (m *mockService) UpdateTask(ctx context.Context, id string, p domain.Patch) (domain.Task, error) {
	return m.updateFn(ctx, id, p)
}

func (m *mockService) MoveTask(ctx context.Context, id string, to domain.Status, pos int) (domain.Task, error) {
	return m.moveFn(ctx, id, to, pos)
}

func (m *mockService) ReorderColumn(ctx context.Context, st domain.Status, ids []string) error {
	return m.reorderFn(ctx, st, ids)
}

func (m *mockService) DeleteTask(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

type stubAnalyzer struct {
	fn func(ctx context.Context, id string) (domain.Task, domain.Report, error)
}

func (s stubAnalyzer) Analyze(ctx context.Context, id string) (domain.Task, domain.Report, error) {
	return s.fn(ctx, id)
}

type stubArchive struct {
	reports []domain.Report
	err     error
}

func (s stubArchive) List(context.Context, string) ([]domain.Report, error) {
	return s.reports, s.err
}

func newTestServer(d Deps) *echo.Echo {
	if d.Logger == nil {
		d.Logger, _ = test.NewNullLogger()
	}
	e := echo.New()
	e.JSONSerializer = SonicSerializer{}
	e.Use(GzipRequestMiddleware())
	Register(e, d)
	return e
}

func do(e *echo.Echo, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := sonic.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
}

func TestListTasksParsesFilter(t *testing.T) {
	var got domain.Filter
	svc := &mockService{listFn: func(_ context.Context, f domain.Filter) ([]domain.Task, error) {
		got = f
		return []domain.Task{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}, nil
	}}
	e := newTestServer(Deps{Service: svc})

	rec := do(e, http.MethodGet, "/api/tasks?status=todo&priority=high&assignee=ann&tags=x,y&tags=z&search=fix", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got.Status != domain.StatusTodo || got.Priority != domain.PriorityHigh || got.Assignee != "ann" || got.Search != "fix" {
		t.Fatalf("unexpected filter %#v", got)
	}
	if strings.Join(got.Tags, ",") != "x,y,z" {
		t.Fatalf("unexpected tags %v", got.Tags)
	}
	var resp tasksResponse
	decodeResponse(t, rec, &resp)
	if resp.Total != 2 || len(resp.Tasks) != 2 || resp.Tasks[0].ID != "a" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestListTasksEmptyIsArray(t *testing.T) {
	svc := &mockService{listFn: func(context.Context, domain.Filter) ([]domain.Task, error) { return nil, nil }}
	rec := do(newTestServer(Deps{Service: svc}), http.MethodGet, "/api/tasks", "")
	if !strings.Contains(rec.Body.String(), `"tasks":[]`) {
		t.Fatalf("expected empty array, got %s", rec.Body.String())
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", domain.Validationf("bad"), http.StatusBadRequest},
		{"notFound", domain.NotFound("x"), http.StatusNotFound},
		{"duplicate", domain.ErrDuplicateID, http.StatusConflict},
		{"mismatch", domain.ErrSetMismatch, http.StatusConflict},
		{"relocation", domain.ErrRelocationFailed, http.StatusInternalServerError},
		{"providers", enrich.ErrAllProvidersFailed, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{getFn: func(context.Context, string) (domain.Task, error) {
				return domain.Task{}, tt.err
			}}
			rec := do(newTestServer(Deps{Service: svc}), http.MethodGet, "/api/tasks/x", "")
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			var body errorResponse
			decodeResponse(t, rec, &body)
			if body.Error == "" {
				t.Fatalf("expected error message")
			}
		})
	}
}

func TestCreateTask(t *testing.T) {
	svc := &mockService{createFn: func(_ context.Context, in domain.CreateInput) (domain.Task, error) {
		return domain.Task{ID: "task-1", Title: in.Title, Status: domain.StatusTodo}, nil
	}}
	e := newTestServer(Deps{Service: svc})

	rec := do(e, http.MethodPost, "/api/tasks", `{"title":"Write docs"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var task domain.Task
	decodeResponse(t, rec, &task)
	if task.ID != "task-1" || task.Title != "Write docs" {
		t.Fatalf("unexpected task %#v", task)
	}

	rec = do(e, http.MethodPost, "/api/tasks", `{"title":"x","bogus":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected unknown field to be rejected, got %d", rec.Code)
	}
}

func TestCreateTaskIdempotencyReplay(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	created := 0
	stored := map[string]domain.Task{}
	svc := &mockService{
		createFn: func(_ context.Context, in domain.CreateInput) (domain.Task, error) {
			created++
			task := domain.Task{ID: "task-1", Title: in.Title}
			stored[task.ID] = task
			return task, nil
		},
		getFn: func(_ context.Context, id string) (domain.Task, error) {
			task, ok := stored[id]
			if !ok {
				return domain.Task{}, domain.NotFound(id)
			}
			return task, nil
		},
	}
	e := newTestServer(Deps{Service: svc, Deduper: NewRedisDeduper(client, time.Minute)})

	first := do(e, http.MethodPost, "/api/tasks", `{"title":"once"}`, idempotencyHeader, "abc")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	second := do(e, http.MethodPost, "/api/tasks", `{"title":"once"}`, idempotencyHeader, "abc")
	if second.Code != http.StatusOK {
		t.Fatalf("expected replay 200, got %d", second.Code)
	}
	var task domain.Task
	decodeResponse(t, second, &task)
	if task.ID != "task-1" || created != 1 {
		t.Fatalf("expected one create and original task, got %d creates and %#v", created, task)
	}
}

func TestCreateTaskReleasesKeyOnFailure(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	svc := &mockService{createFn: func(context.Context, domain.CreateInput) (domain.Task, error) {
		return domain.Task{}, domain.Validationf("title is required")
	}}
	e := newTestServer(Deps{Service: svc, Deduper: NewRedisDeduper(client, time.Minute)})

	rec := do(e, http.MethodPost, "/api/tasks", `{"title":""}`, idempotencyHeader, "k")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if m.Exists("idempotency:k") {
		t.Fatalf("expected failed create to release its key")
	}
}

func TestCreateTaskInFlightConflict(t *testing.T) {
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if err := m.Set("idempotency:busy", pendingMarker); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := &mockService{createFn: func(context.Context, domain.CreateInput) (domain.Task, error) {
		t.Fatalf("create must not run while the key is pending")
		return domain.Task{}, nil
	}}
	e := newTestServer(Deps{Service: svc, Deduper: NewRedisDeduper(client, time.Minute)})

	rec := do(e, http.MethodPost, "/api/tasks", `{"title":"x"}`, idempotencyHeader, "busy")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestUpdateTask(t *testing.T) {
	var gotPatch domain.Patch
	svc := &mockService{updateFn: func(_ context.Context, id string, p domain.Patch) (domain.Task, error) {
		gotPatch = p
		if err := p.Validate(); err != nil {
			return domain.Task{}, err
		}
		return domain.Task{ID: id, Title: *p.Title}, nil
	}}
	e := newTestServer(Deps{Service: svc})

	rec := do(e, http.MethodPatch, "/api/tasks/t1", `{"title":"renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotPatch.Title == nil || *gotPatch.Title != "renamed" || gotPatch.Status != nil {
		t.Fatalf("unexpected patch %#v", gotPatch)
	}

	rec = do(e, http.MethodPatch, "/api/tasks/t1", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected empty patch to be rejected, got %d", rec.Code)
	}
}

func TestDeleteTask(t *testing.T) {
	var deleted string
	svc := &mockService{deleteFn: func(_ context.Context, id string) error {
		if id == "missing" {
			return domain.NotFound(id)
		}
		deleted = id
		return nil
	}}
	e := newTestServer(Deps{Service: svc})

	if rec := do(e, http.MethodDelete, "/api/tasks/t1", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if deleted != "t1" {
		t.Fatalf("unexpected id %q", deleted)
	}
	if rec := do(e, http.MethodDelete, "/api/tasks/missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMoveTask(t *testing.T) {
	var gotStatus domain.Status
	var gotPos int
	svc := &mockService{moveFn: func(_ context.Context, id string, to domain.Status, pos int) (domain.Task, error) {
		gotStatus, gotPos = to, pos
		return domain.Task{ID: id, Status: to, Position: pos}, nil
	}}
	e := newTestServer(Deps{Service: svc})

	rec := do(e, http.MethodPost, "/api/tasks/t1/move", `{"status":"done","position":0}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotStatus != domain.StatusDone || gotPos != 0 {
		t.Fatalf("unexpected move args %s/%d", gotStatus, gotPos)
	}

	if rec := do(e, http.MethodPost, "/api/tasks/t1/move", `{"status":"done"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected missing position to be rejected, got %d", rec.Code)
	}
}

func TestReorderColumn(t *testing.T) {
	var gotIDs []string
	svc := &mockService{reorderFn: func(_ context.Context, st domain.Status, ids []string) error {
		if len(ids) != 2 {
			return domain.ErrSetMismatch
		}
		gotIDs = ids
		return nil
	}}
	e := newTestServer(Deps{Service: svc})

	rec := do(e, http.MethodPost, "/api/tasks/reorder/in_progress", `["b","a"]`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var msg messageResponse
	decodeResponse(t, rec, &msg)
	if msg.Message == "" || strings.Join(gotIDs, ",") != "b,a" {
		t.Fatalf("unexpected reorder result %q %v", msg.Message, gotIDs)
	}

	if rec := do(e, http.MethodPost, "/api/tasks/reorder/in_progress", `["a"]`); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for mismatched set, got %d", rec.Code)
	}
	if rec := do(e, http.MethodPost, "/api/tasks/reorder/blocked", `["a"]`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
}

func TestAnalyzeAndReports(t *testing.T) {
	svc := &mockService{}
	e := newTestServer(Deps{Service: svc})
	if rec := do(e, http.MethodPost, "/api/tasks/t1/analyze", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without analyzer, got %d", rec.Code)
	}
	if rec := do(e, http.MethodGet, "/api/tasks/t1/reports", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without archive, got %d", rec.Code)
	}

	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	e = newTestServer(Deps{
		Service: svc,
		Analyzer: stubAnalyzer{fn: func(_ context.Context, id string) (domain.Task, domain.Report, error) {
			return domain.Task{ID: id}, domain.Report{TaskID: id, Provider: "ollama", Content: "ok", CreatedAt: now}, nil
		}},
		Reports: stubArchive{reports: []domain.Report{{TaskID: "t1", Provider: "anthropic", Content: "older"}}},
	})

	rec := do(e, http.MethodPost, "/api/tasks/t1/analyze", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var analysis analysisResponse
	decodeResponse(t, rec, &analysis)
	if analysis.Report.Provider != "ollama" || analysis.Task.ID != "t1" {
		t.Fatalf("unexpected analysis %#v", analysis)
	}

	rec = do(e, http.MethodGet, "/api/tasks/t1/reports", "")
	var reports reportsResponse
	decodeResponse(t, rec, &reports)
	if len(reports.Reports) != 1 || reports.Reports[0].Content != "older" {
		t.Fatalf("unexpected reports %#v", reports)
	}
}

func TestInfoAndHealth(t *testing.T) {
	e := newTestServer(Deps{Service: &mockService{}, Version: "1.2.3"})

	rec := do(e, http.MethodGet, "/", "")
	var info infoResponse
	decodeResponse(t, rec, &info)
	if info.Version != "1.2.3" || info.Status != "running" {
		t.Fatalf("unexpected info %#v", info)
	}
	if rec := do(e, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGzipRequestBody(t *testing.T) {
	var got string
	svc := &mockService{createFn: func(_ context.Context, in domain.CreateInput) (domain.Task, error) {
		got = in.Title
		return domain.Task{ID: "t", Title: in.Title}, nil
	}}
	e := newTestServer(Deps{Service: svc})

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(`{"title":"zipped"}`)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated || got != "zipped" {
		t.Fatalf("expected gzip body to be decoded, got %d %q", rec.Code, got)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("not gzip"))
	bad.Header.Set(echo.HeaderContentEncoding, "gzip")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, bad)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected invalid gzip to be rejected, got %d", rec.Code)
	}
}

func TestHasGzipEncoding(t *testing.T) {
	for header, want := range map[string]bool{
		"gzip":          true,
		"br, GZIP":      true,
		"x-gzip":        true,
		"deflate":       false,
		"":              false,
		"x-gzip-ish, a": false,
	} {
		if got := hasGzipEncoding(header); got != want {
			t.Fatalf("hasGzipEncoding(%q) = %v, want %v", header, got, want)
		}
	}
}
