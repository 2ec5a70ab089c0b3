package app

import (
	"context"
	"fmt"
	"strings"

	"jobpulse/internal/config"
	"jobpulse/internal/delivery/http/handler"
	"jobpulse/internal/delivery/http/middleware"
	"jobpulse/internal/delivery/http/routes"
	"jobpulse/internal/logger"
	"jobpulse/internal/ws"

	"github.com/gofiber/fiber/v3"
)

type App struct {
	Fiber     *fiber.App
	Container *Container
	Triggers  *Triggers
}

func New(c *Container) *App {
	f := fiber.New(fiber.Config{AppName: c.Config.App.AppName})

	registerGlobalMiddleware(f, c.Log)

	reg := routes.NewRegistry(
		handler.NewHealthHandler(c.DB, c.Cache),
		handler.NewAuthHandler(c.Auth),
		handler.NewAdminHandler(c.Ops),
		ws.NewHandler(c.Hub, c.Log),
		middleware.NewAuthMiddleware(c.JWT),
	)
	reg.Register(f)

	return &App{Fiber: f, Container: c}
}

// Bootstrap builds the container, migrates, and starts the background parts:
// the websocket hub and the cron triggers. The returned cleanup stops them in
// reverse order.
func Bootstrap(ctx context.Context, cfg config.Config, log logger.Logger) (*App, func(context.Context) error, error) {
	c, err := NewContainer(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if err := c.Migrate(ctx); err != nil {
		_ = c.Close()
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go c.Hub.Run(runCtx)

	t := NewTriggers(runCtx, log.With(logger.String("component", "triggers")))
	if err := c.RegisterTriggers(t); err != nil {
		cancel()
		_ = c.Close()
		return nil, nil, err
	}
	t.Start()

	app := New(c)
	app.Triggers = t

	cleanup := func(ctx context.Context) error {
		t.Stop(ctx)
		cancel()
		return c.Close()
	}
	return app, cleanup, nil
}

func registerGlobalMiddleware(app *fiber.App, log logger.Logger) {
	if app == nil {
		return
	}

	accessMw := middleware.NewAccessLogMiddleware(log.With(logger.String("component", "http")))
	app.Use(accessMw.Middleware())

	errMw := middleware.NewErrorMiddleware(log)
	app.Use(errMw.Middleware())
}

func ListenAddr(port string) (string, error) {
	p := strings.TrimSpace(port)
	if p == "" {
		return "", fmt.Errorf("empty HTTP port")
	}
	if strings.HasPrefix(p, ":") {
		return p, nil
	}
	return ":" + p, nil
}
