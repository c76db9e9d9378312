package handlers

import (
    "context"
    "time"

    "github.com/devault/backend/internal/core/ports"
    "github.com/gofiber/fiber/v2"
)

// DeviceLister is the part of the device transport health reports on.
type DeviceLister interface {
    ListDevices(ctx context.Context) ([]string, error)
}

type HealthHandler struct {
    devices DeviceLister
    started time.Time
}

var _ DeviceLister = (ports.DeviceTransport)(nil)

func NewHealthHandler(devices DeviceLister) *HealthHandler {
    return &HealthHandler{devices: devices, started: time.Now()}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
    resp := fiber.Map{
        "status": "ok",
        "uptime": time.Since(h.started).Round(time.Second).String(),
    }
    if h.devices != nil {
        devices, err := h.devices.ListDevices(c.UserContext())
        if err != nil {
            resp["device_error"] = err.Error()
        } else {
            resp["devices"] = len(devices)
        }
    }
    return c.JSON(resp)
}
