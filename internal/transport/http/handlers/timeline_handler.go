package handlers

import (
    "github.com/devault/backend/internal/core/ports"
    "github.com/devault/backend/internal/transport/http/dto"
    "github.com/gofiber/fiber/v2"
)

const (
    defaultTimelineLimit = 50
    maxTimelineLimit     = 500
)

type TimelineHandler struct {
    repo ports.TimelineRepository
}

func NewTimelineHandler(repo ports.TimelineRepository) *TimelineHandler {
    return &TimelineHandler{repo: repo}
}

// GetEvents lists recent task events, newest first. ?task= narrows the
// list to one task.
func (h *TimelineHandler) GetEvents(c *fiber.Ctx) error {
    limit := c.QueryInt("limit", defaultTimelineLimit)
    if limit <= 0 || limit > maxTimelineLimit {
        return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid limit"})
    }

    if task := c.Query("task"); task != "" {
        events, err := h.repo.GetByTask(c.UserContext(), task, limit)
        if err != nil {
            return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
        }
        return c.JSON(events)
    }
    events, err := h.repo.GetAll(c.UserContext(), limit)
    if err != nil {
        return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: err.Error()})
    }
    return c.JSON(events)
}
