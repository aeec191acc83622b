package rest

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"yqhp/work-queue/pkg/types"
)

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(types.HealthResponse{
		Status:    "healthy",
		MasterID:  s.backend.ID(),
		Running:   s.backend.IsRunning(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// submitTask handles POST /api/v1/tasks
func (s *Server) submitTask(c *fiber.Ctx) error {
	var req types.TaskSubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}

	task, err := req.ToTask()
	if err != nil {
		return s.writeError(c, err)
	}

	id, err := s.backend.Submit(task)
	if err != nil {
		return s.writeError(c, err)
	}

	stored, err := s.backend.Get(id)
	if err != nil {
		return s.writeError(c, err)
	}

	s.logger.Debug("task submitted", zap.Uint64("task_id", id), zap.String("tag", stored.Tag))
	return c.Status(fiber.StatusCreated).JSON(types.TaskSubmitResponse{
		ID:       id,
		State:    stored.State,
		Checksum: stored.Checksum,
	})
}

// listTasks handles GET /api/v1/tasks?state=waiting,running&tag=x
func (s *Server) listTasks(c *fiber.Ctx) error {
	filter := &types.TaskFilter{Tag: c.Query("tag")}
	if raw := c.Query("state"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			state := types.TaskState(strings.TrimSpace(part))
			if !state.IsValid() {
				return c.Status(fiber.StatusBadRequest).JSON(types.ErrorResponse{
					Error:   "invalid_request",
					Message: "Unknown task state: " + string(state),
				})
			}
			filter.States = append(filter.States, state)
		}
	}

	tasks := s.backend.List(filter)
	return c.JSON(types.TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// getTask handles GET /api/v1/tasks/:id
func (s *Server) getTask(c *fiber.Ctx) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}

	task, err := s.backend.Get(id)
	if err != nil {
		return s.writeError(c, err)
	}
	return c.JSON(task)
}

// removeTask handles DELETE /api/v1/tasks/:id
func (s *Server) removeTask(c *fiber.Ctx) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}

	task, err := s.backend.Remove(id)
	if err != nil {
		return s.writeError(c, err)
	}

	s.logger.Info("task removed", zap.Uint64("task_id", id), zap.String("state", string(task.State)))
	return c.JSON(task)
}

// listWorkers handles GET /api/v1/workers
func (s *Server) listWorkers(c *fiber.Ctx) error {
	workers := s.backend.Workers()
	return c.JSON(types.WorkerListResponse{Workers: workers, Total: len(workers)})
}

// getStats handles GET /api/v1/stats
func (s *Server) getStats(c *fiber.Ctx) error {
	return c.JSON(s.backend.Stats())
}

func taskID(c *fiber.Ctx) (uint64, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid task ID: "+c.Params("id"))
	}
	return id, nil
}

// writeError maps domain errors to HTTP responses.
func (s *Server) writeError(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, types.ErrNotFound):
		status, code = fiber.StatusNotFound, "not_found"
	case errors.Is(err, types.ErrInvalidTask):
		status, code = fiber.StatusBadRequest, "invalid_task"
	case errors.Is(err, types.ErrInvalidTransition):
		status, code = fiber.StatusConflict, "conflict"
	default:
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(status).JSON(types.ErrorResponse{
		Error:   code,
		Message: err.Error(),
	})
}
