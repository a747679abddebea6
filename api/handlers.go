package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const (
	maxBodySize       = 1 << 20
	idempotencyHeader = "Idempotency-Key"
	serviceName       = "kanban-api"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Service == nil {
		panic("api: service is required")
	}
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}

	e.GET("/", info(d.Version))
	e.GET("/healthz", healthz())
	e.GET("/api/events", streamEvents(d))

	e.GET("/api/tasks", listTasks(d))
	e.POST("/api/tasks", createTask(d))
	e.POST("/api/tasks/reorder/:status", reorderColumn(d))
	e.GET("/api/tasks/:id", getTask(d))
	e.PATCH("/api/tasks/:id", updateTask(d))
	e.DELETE("/api/tasks/:id", deleteTask(d))
	e.POST("/api/tasks/:id/move", moveTask(d))
	e.POST("/api/tasks/:id/analyze", analyzeTask(d))
	e.GET("/api/tasks/:id/reports", listReports(d))
}

func info(version string) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, infoResponse{Name: serviceName, Version: version, Status: "running"})
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}

// decodeBody reads a size-limited JSON body and rejects unknown fields.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// splitList accepts both repeated parameters and comma-separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func listTasks(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		q := c.QueryParams()
		filter := domain.Filter{
			Status:   domain.Status(strings.TrimSpace(q.Get("status"))),
			Priority: domain.Priority(strings.TrimSpace(q.Get("priority"))),
			Assignee: strings.TrimSpace(q.Get("assignee")),
			Tags:     splitList(q["tags"]),
			Search:   strings.TrimSpace(q.Get("search")),
		}

		start := time.Now()
		tasks, err := d.Service.ListTasks(c.Request().Context(), filter)
		metricsFrom(c).ObserveService(time.Since(start))
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		metricsFrom(c).SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks, Total: len(tasks)})
	}
}

func createTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.CreateInput
		if err := decodeBody(c, &in); err != nil {
			return badRequest(c, "invalid body")
		}
		ctx := c.Request().Context()

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
		if key != "" && d.Deduper != nil {
			taskID, claimed, err := d.Deduper.Claim(ctx, key)
			switch {
			case err != nil:
				return writeError(c, d.Logger, err)
			case !claimed && taskID != "":
				task, err := d.Service.GetTask(ctx, taskID)
				if err != nil {
					return writeError(c, d.Logger, err)
				}
				return c.JSON(http.StatusOK, task)
			case !claimed:
				return writeError(c, d.Logger, ErrRequestInFlight)
			}
		} else {
			key = ""
		}

		start := time.Now()
		task, err := d.Service.CreateTask(ctx, in)
		metricsFrom(c).ObserveService(time.Since(start))
		if err != nil {
			if key != "" {
				if rerr := d.Deduper.Release(ctx, key); rerr != nil {
					d.Logger.WithError(rerr).Warn("failed to release idempotency key")
				}
			}
			return writeError(c, d.Logger, err)
		}
		if key != "" {
			if berr := d.Deduper.Bind(ctx, key, task.ID); berr != nil {
				d.Logger.WithError(berr).WithField("task_id", task.ID).Warn("failed to bind idempotency key")
			}
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func getTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		task, err := d.Service.GetTask(c.Request().Context(), c.Param("id"))
		metricsFrom(c).ObserveService(time.Since(start))
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func updateTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var patch domain.Patch
		if err := decodeBody(c, &patch); err != nil {
			return badRequest(c, "invalid body")
		}
		start := time.Now()
		task, err := d.Service.UpdateTask(c.Request().Context(), c.Param("id"), patch)
		metricsFrom(c).ObserveService(time.Since(start))
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := d.Service.DeleteTask(c.Request().Context(), c.Param("id"))
		metricsFrom(c).ObserveService(time.Since(start))
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func moveTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req moveRequest
		if err := decodeBody(c, &req); err != nil {
			return badRequest(c, "invalid body")
		}
		if req.Position == nil {
			return badRequest(c, "position is required")
		}
		start := time.Now()
		task, err := d.Service.MoveTask(c.Request().Context(), c.Param("id"), req.Status, *req.Position)
		metricsFrom(c).ObserveService(time.Since(start))
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func reorderColumn(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		st, err := domain.ParseStatus(c.Param("status"))
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		var ids []string
		if err := decodeBody(c, &ids); err != nil {
			return badRequest(c, "invalid body")
		}
		start := time.Now()
		err = d.Service.ReorderColumn(c.Request().Context(), st, ids)
		metricsFrom(c).ObserveService(time.Since(start))
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "column " + string(st) + " reordered"})
	}
}

var errAnalysisDisabled = errors.New("analysis is not configured")

func analyzeTask(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if d.Analyzer == nil {
			metricsFrom(c).SetErrorStage("disabled")
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: errAnalysisDisabled.Error()})
		}
		start := time.Now()
		task, report, err := d.Analyzer.Analyze(c.Request().Context(), c.Param("id"))
		metricsFrom(c).ObserveService(time.Since(start))
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		return c.JSON(http.StatusOK, analysisResponse{Task: task, Report: report})
	}
}

func listReports(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if d.Reports == nil {
			metricsFrom(c).SetErrorStage("disabled")
			return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "report archive is not configured"})
		}
		start := time.Now()
		reports, err := d.Reports.List(c.Request().Context(), c.Param("id"))
		metricsFrom(c).ObserveService(time.Since(start))
		if err != nil {
			return writeError(c, d.Logger, err)
		}
		if reports == nil {
			reports = []domain.Report{}
		}
		return c.JSON(http.StatusOK, reportsResponse{Reports: reports})
	}
}
