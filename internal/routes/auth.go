package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/school-funds/school_funds/internal/auth"
)

// RegisterAuthRoutes wires authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter, authenticated fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/login", rateLimiter, h.Login)
	group.Post("/refresh", h.Refresh)
	group.Post("/logout", authenticated, h.Logout)
	group.Get("/me", authenticated, h.Me)
}
