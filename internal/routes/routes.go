package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/obverse/obverse/internal/config"
	"github.com/obverse/obverse/internal/funding"
	"github.com/obverse/obverse/internal/identity"
	"github.com/obverse/obverse/internal/metrics"
	"github.com/obverse/obverse/internal/middleware"
	"github.com/obverse/obverse/internal/payments"
	"github.com/obverse/obverse/internal/swap"
	"github.com/obverse/obverse/internal/wallet"
)

const swapsPerMinute = 5

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	Mongo    *mongo.Client
	Cache    *redis.Client
	Postgres *pgxpool.Pool
	Logger   *slog.Logger

	Identity *identity.Service
	Wallets  *wallet.Service
	Swaps    *swap.Service
	Funding  *funding.Service
	Payments *payments.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.Mongo == nil {
			return fmt.Errorf("mongo is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cfg.APIKey == "" {
			return fmt.Errorf("API_KEY is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", metrics.Handler())

	api := app.Group("/api/v1", middleware.APIKeyAuth(d.Cfg.APIKey))
	if d.Cache != nil {
		api.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterIdentityRoutes(api, identity.NewHandler(d.Identity, d.Wallets))
	RegisterWalletRoutes(api, wallet.NewHandler(d.Wallets))
	RegisterFundingRoutes(api, funding.NewHandler(d.Funding))
	RegisterPaymentRoutes(api, payments.NewHandler(d.Payments))
	RegisterSwapRoutes(api, swap.NewHandler(d.Swaps), middleware.SwapRateLimit(d.Cache, swapsPerMinute))
	return nil
}
