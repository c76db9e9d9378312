package http

import (
    "strings"

    "github.com/devault/backend/internal/config"
    "github.com/devault/backend/internal/core/ports"
    "github.com/devault/backend/internal/core/services"
    "github.com/devault/backend/internal/infrastructure/logger"
    "github.com/devault/backend/internal/transport/http/handlers"
    httpmw "github.com/devault/backend/internal/transport/http/middleware"
    "github.com/gofiber/contrib/websocket"
    "github.com/gofiber/fiber/v2"
    "github.com/gofiber/fiber/v2/middleware/cors"
    "github.com/gofiber/fiber/v2/middleware/recover"
)

type RouterConfig struct {
    Logger   *logger.Logger
    Config   *config.Config
    Commands *services.CommandService
    Tasks    *services.TaskService
    Timeline ports.TimelineRepository
    Devices  handlers.DeviceLister
    Hub      *handlers.SocketHub
}

// NewApp builds the fiber app with the shared middleware stack.
func NewApp(cfg *config.Config, log *logger.Logger) *fiber.App {
    app := fiber.New(fiber.Config{
        AppName:               "devault",
        ReadTimeout:           cfg.Server.ReadTimeout,
        WriteTimeout:          cfg.Server.WriteTimeout,
        IdleTimeout:           cfg.Server.IdleTimeout,
        DisableStartupMessage: true,
        // Task names such as "Db size checker - <name>" arrive percent-encoded.
        UnescapePath: true,
    })

    app.Use(recover.New())
    app.Use(httpmw.RequestID(cfg.Features.RequestIDHeader))
    if cfg.Features.EnableRequestLogging {
        app.Use(httpmw.RequestLogger(log))
    }
    corsCfg := cors.Config{AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Token"}
    if len(cfg.Auth.AllowedOrigins) > 0 {
        corsCfg.AllowOrigins = strings.Join(cfg.Auth.AllowedOrigins, ", ")
    }
    app.Use(cors.New(corsCfg))
    return app
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
    commandHandler := handlers.NewCommandHandler(cfg.Commands, cfg.Logger)
    taskHandler := handlers.NewTaskHandler(cfg.Tasks, cfg.Logger)
    timelineHandler := handlers.NewTimelineHandler(cfg.Timeline)
    healthHandler := handlers.NewHealthHandler(cfg.Devices)

    app.Get("/health", healthHandler.Health)

    // Push channel
    app.Use("/ws", httpmw.AdminAuth(cfg.Config), func(c *fiber.Ctx) error {
        if websocket.IsWebSocketUpgrade(c) {
            c.Locals("allowed", true)
            return c.Next()
        }
        return c.SendStatus(fiber.StatusUpgradeRequired)
    })
    app.Get("/ws/channels/:channel", websocket.New(cfg.Hub.Handle))

    // API v1 routes
    api := app.Group("/api/v1", httpmw.AdminAuth(cfg.Config))

    api.Post("/commands", commandHandler.Exec)

    tasks := api.Group("/tasks")
    tasks.Post("/", taskHandler.AddTask)
    tasks.Get("/", taskHandler.GetTasks)
    tasks.Delete("/:name", taskHandler.KillTask)
    tasks.Post("/:name/stop", taskHandler.StopTask)
    tasks.Get("/:name/progress", taskHandler.GetProgress)

    api.Get("/timeline", timelineHandler.GetEvents)
}
