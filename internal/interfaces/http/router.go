package http

import (
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/stock-ledger/internal/application/audit"
	"github.com/jhoicas/stock-ledger/internal/application/ledger"
	"github.com/jhoicas/stock-ledger/internal/application/usecase"
	"github.com/jhoicas/stock-ledger/pkg/jwt"
	"github.com/jhoicas/stock-ledger/pkg/logger"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	AppName        string
	LedgerUC       *ledger.LedgerUseCase
	ProductUC      *usecase.ProductUseCase
	LocationUC     *usecase.LocationUseCase
	AuditUC        *audit.AuditUseCase
	JWTSecret      string
	MetricsEnabled bool
	SwaggerFile    string // vacío = sin /docs
	Log            *logger.Logger
}

// NewApp arma la aplicación Fiber con middlewares, rutas operativas y la API.
func NewApp(deps RouterDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      deps.AppName,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	})
	app.Use(recover.New())
	if deps.Log != nil {
		app.Use(requestLogger(deps.Log.Component("http")))
	}
	if deps.MetricsEnabled {
		app.Use(MetricsMiddleware())
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	}
	if deps.SwaggerFile != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/",
			FilePath: deps.SwaggerFile,
			Path:     "docs",
			Title:    "Stock Ledger API",
		}))
	}
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": deps.AppName})
	})
	Router(app, deps)
	return app
}

// Router registra las rutas de la API. Todas requieren Bearer Token.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret))

	readers := RequireRole(jwt.RoleAdmin, jwt.RoleBodeguero, jwt.RoleAuditor)
	writers := RequireRole(jwt.RoleAdmin, jwt.RoleBodeguero)
	admins := RequireRole(jwt.RoleAdmin)

	movementHandler := NewMovementHandler(deps.LedgerUC)
	movements := api.Group("/stock-movements")
	movements.Post("/", writers, movementHandler.Submit)
	movements.Get("/", readers, movementHandler.List)
	movements.Get("/:id", readers, movementHandler.GetByID)
	movements.Post("/:id/cancel", writers, movementHandler.Cancel)
	movements.Post("/:id/retry", writers, movementHandler.Retry)

	productHandler := NewProductHandler(deps.ProductUC)
	products := api.Group("/products")
	products.Post("/", admins, productHandler.Create)
	products.Get("/", readers, productHandler.List)
	products.Get("/:id", readers, productHandler.GetByID)

	locationHandler := NewLocationHandler(deps.LocationUC, deps.LedgerUC)
	locations := api.Group("/locations")
	locations.Post("/", admins, locationHandler.Create)
	locations.Get("/", readers, locationHandler.List)
	locations.Get("/:id", readers, locationHandler.GetByID)
	locations.Get("/:id/balance", readers, locationHandler.Balance)
	locations.Get("/:id/balances", readers, locationHandler.Balances)

	auditHandler := NewAuditHandler(deps.AuditUC)
	audits := api.Group("/audit/runs")
	audits.Post("/", admins, auditHandler.Run)
	audits.Get("/:id", RequireRole(jwt.RoleAdmin, jwt.RoleAuditor), auditHandler.GetByID)
	audits.Get("/:id/pdf", RequireRole(jwt.RoleAdmin, jwt.RoleAuditor), auditHandler.PDF)
}

func requestLogger(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		status := c.Response().StatusCode()
		ev := log.Debug()
		if status >= fiber.StatusInternalServerError || err != nil {
			ev = log.Error().Err(err)
		}
		ev.Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("company_id", GetCompanyID(c)).
			Msg("petición")
		return err
	}
}
