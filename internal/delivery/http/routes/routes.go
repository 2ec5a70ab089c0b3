package routes

import (
	"jobpulse/internal/delivery/http/handler"
	"jobpulse/internal/delivery/http/middleware"
	"jobpulse/internal/ws"

	"github.com/gofiber/fiber/v3"
)

type Registry struct {
	health *handler.HealthHandler
	auth   *handler.AuthHandler
	admin  *handler.AdminHandler
	events *ws.Handler
	authMw *middleware.AuthMiddleware
}

func NewRegistry(health *handler.HealthHandler, auth *handler.AuthHandler, admin *handler.AdminHandler, events *ws.Handler, authMw *middleware.AuthMiddleware) *Registry {
	return &Registry{health: health, auth: auth, admin: admin, events: events, authMw: authMw}
}

func (r *Registry) Register(app *fiber.App) {
	if app == nil {
		return
	}

	r.registerHealth(app)
	r.registerAPI(app)
}

func (r *Registry) registerHealth(app *fiber.App) {
	if r.health != nil {
		r.health.RegisterRoutes(app)
	}
}

func (r *Registry) registerAPI(app *fiber.App) {
	v1 := app.Group("/api").Group("/v1")

	if r.auth != nil {
		r.auth.RegisterRoutes(v1.Group("/auth"))
	}

	if r.authMw == nil {
		return
	}
	admin := v1.Group("/admin", r.authMw.Middleware())
	if r.admin != nil {
		r.admin.RegisterRoutes(admin)
	}
	if r.events != nil {
		admin.Get("/ws", r.events.HandleEvents)
	}
}
