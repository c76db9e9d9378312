package handlers

import (
    "errors"

    "github.com/devault/backend/internal/core/services"
    "github.com/devault/backend/internal/core/tasks"
    "github.com/devault/backend/internal/infrastructure/logger"
    "github.com/devault/backend/internal/transport/http/dto"
    "github.com/gofiber/fiber/v2"
)

type TaskHandler struct {
    service *services.TaskService
    logger  *logger.Logger
}

func NewTaskHandler(service *services.TaskService, logger *logger.Logger) *TaskHandler {
    return &TaskHandler{service: service, logger: logger}
}

func (h *TaskHandler) AddTask(c *fiber.Ctx) error {
    var req dto.TaskRequest
    if err := c.BodyParser(&req); err != nil {
        h.logger.Warnw("task_add_body_parse_failed", "error", err)
        return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
            Error: "invalid request body",
        })
    }

    h.logger.Infow("task_add_request", "name", req.Name, "category", req.Category)
    reply := h.service.AddTask(c.UserContext(), services.AddTaskInput{
        Name:     req.Name,
        Channel:  dto.ChannelOrDefault(req.Channel),
        Category: req.Category,
        Params:   tasks.Params(req.Params),
    })
    return c.JSON(reply)
}

func (h *TaskHandler) GetTasks(c *fiber.Ctx) error {
    list, err := h.service.QueryTasks(c.UserContext())
    if err != nil {
        return h.daemonError(c, "task_query_failed", err)
    }
    if list == nil {
        list = []tasks.TaskInfo{}
    }
    return c.JSON(dto.TaskListResponse{Tasks: list})
}

func (h *TaskHandler) KillTask(c *fiber.Ctx) error {
    name := c.Params("name")
    h.logger.Infow("task_kill_request", "name", name)
    return c.JSON(h.service.KillTask(c.UserContext(), name))
}

func (h *TaskHandler) StopTask(c *fiber.Ctx) error {
    name := c.Params("name")
    h.logger.Infow("task_stop_request", "name", name)
    res, err := h.service.StopTask(c.UserContext(), name)
    if err != nil {
        return h.daemonError(c, "task_stop_failed", err)
    }
    return c.JSON(res)
}

func (h *TaskHandler) GetProgress(c *fiber.Ctx) error {
    name := c.Params("name")
    p, err := h.service.Progress(c.UserContext(), name)
    if err != nil {
        return h.daemonError(c, "task_progress_failed", err)
    }
    return c.JSON(dto.ProgressResponse{Name: name, Progress: p})
}

func (h *TaskHandler) daemonError(c *fiber.Ctx, event string, err error) error {
    status := fiber.StatusInternalServerError
    switch {
    case errors.Is(err, tasks.ErrTaskNotFound):
        status = fiber.StatusNotFound
    case errors.Is(err, tasks.ErrDaemonNotRunning):
        status = fiber.StatusServiceUnavailable
    }
    h.logger.Warnw(event, "name", c.Params("name"), "error", err)
    return c.Status(status).JSON(dto.ErrorResponse{Error: err.Error()})
}
