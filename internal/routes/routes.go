package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/school-funds/school_funds/internal/auth"
	"github.com/school-funds/school_funds/internal/config"
	"github.com/school-funds/school_funds/internal/identity"
	"github.com/school-funds/school_funds/internal/ledger"
	"github.com/school-funds/school_funds/internal/logging"
	"github.com/school-funds/school_funds/internal/middleware"
	"github.com/school-funds/school_funds/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Notifier receives committed ledger changes; nil logs them instead.
	Notifier notification.Notifier
	// Users overrides the identity store, mainly for tests.
	Users identity.Repository
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.Cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Idempotency-Key, X-Request-ID",
	}))

	RegisterHealthRoutes(app, d)

	// Services and handlers
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewInMemory()
		d.Logger.Warn("no DATABASE_URL configured, ledger is held in memory")
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}
	ledgerHandler := ledger.NewHandler(ledger.NewService(store, notifier, d.Logger))

	identityRepo := d.Users
	if identityRepo == nil {
		if d.DB != nil {
			identityRepo = identity.NewPostgresRepository(d.DB)
		} else {
			identityRepo = identity.NewMemoryRepository()
		}
	}
	identitySvc := identity.NewService(identityRepo)
	authSvc := auth.NewService(d.Cfg, identityRepo)
	authHandler := auth.NewHandler(identitySvc, authSvc)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	jwtmw := middleware.JWTAuth(authSvc)
	RegisterAuthRoutes(api, authHandler, middleware.LoginRateLimit(d.Cache, d.Cfg.LoginPerMinute), jwtmw)

	// Protected routes
	protected := api.Group("", jwtmw, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	admin := middleware.RequireRole(identity.RoleAdmin)
	anyone := middleware.RequireRole(identity.RoleAdmin, identity.RoleStudent)

	RegisterStudentRoutes(protected, ledgerHandler, admin)
	RegisterClassRoutes(protected, ledgerHandler, admin)
	RegisterFundRoutes(protected, ledgerHandler, admin)
	RegisterReportRoutes(protected, ledgerHandler, anyone, admin)

	return nil
}
