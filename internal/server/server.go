package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/school-funds/school_funds/internal/apierr"
	"github.com/school-funds/school_funds/internal/config"
	"github.com/school-funds/school_funds/internal/notification"
	"github.com/school-funds/school_funds/internal/routes"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Second
	bodyLimit    = 1 << 20
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// A nil notifier falls back to logging ledger changes.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, notifier notification.Notifier, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		BodyLimit:    bodyLimit,
		ErrorHandler: apierr.Handler(logger),
	})

	deps := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger, Notifier: notifier}
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, letting in-flight ledger units finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
