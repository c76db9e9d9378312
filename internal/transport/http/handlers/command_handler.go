package handlers

import (
    "github.com/devault/backend/internal/core/services"
    "github.com/devault/backend/internal/core/tasks"
    "github.com/devault/backend/internal/infrastructure/logger"
    "github.com/devault/backend/internal/transport/http/dto"
    "github.com/gofiber/fiber/v2"
)

type CommandHandler struct {
    service *services.CommandService
    logger  *logger.Logger
}

func NewCommandHandler(service *services.CommandService, logger *logger.Logger) *CommandHandler {
    return &CommandHandler{service: service, logger: logger}
}

// Exec runs an instant command. Command failures are part of the reply
// tuple, so only an unreadable body is an HTTP error.
func (h *CommandHandler) Exec(c *fiber.Ctx) error {
    var req dto.CommandRequest
    if err := c.BodyParser(&req); err != nil {
        h.logger.Warnw("command_body_parse_failed", "error", err)
        return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
            Error: "invalid request body",
        })
    }

    h.logger.Infow("command_request", "command", req.Command, "name", req.Name)
    reply := h.service.Exec(c.UserContext(), services.ExecInput{
        Name:    req.Name,
        Channel: dto.ChannelOrDefault(req.Channel),
        Command: req.Command,
        Params:  tasks.Params(req.Params),
    })
    return c.JSON(reply)
}
