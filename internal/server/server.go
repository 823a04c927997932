package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/obverse/obverse/internal/config"
	"github.com/obverse/obverse/internal/middleware"
	"github.com/obverse/obverse/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, b Backends, svc *Services, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		// Swaps wait on two quotes, a payload and a broadcast.
		WriteTimeout: 90 * time.Second,
		ErrorHandler: errorHandler,
	})

	if err := routes.Setup(app, routes.Deps{
		Cfg:      cfg,
		Mongo:    b.Mongo,
		Cache:    b.Redis,
		Postgres: b.Postgres,
		Logger:   logger,
		Identity: svc.Identity,
		Wallets:  svc.Wallets,
		Swaps:    svc.Swaps,
		Funding:  svc.Funding,
		Payments: svc.Payments,
	}); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// App exposes the Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders every error as {"error": message, "request_id": id}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{
		"error":      msg,
		"request_id": middleware.RequestIDFrom(c),
	})
}
