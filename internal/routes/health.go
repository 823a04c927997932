package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const statusDisabled = "disabled"

// RegisterHealthRoutes adds a readiness endpoint covering every configured store.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		mongoStatus, redisStatus, pgStatus := statusDisabled, statusDisabled, statusDisabled

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.Mongo != nil {
			mongoStatus = probe(d.Mongo.Ping(ctx, readpref.Primary()))
		}
		if d.Cache != nil {
			redisStatus = probe(d.Cache.Ping(ctx).Err())
		}
		if d.Postgres != nil {
			pgStatus = probe(d.Postgres.Ping(ctx))
		}

		status := http.StatusOK
		for _, s := range []string{mongoStatus, redisStatus, pgStatus} {
			if s != "ok" && s != statusDisabled {
				status = http.StatusServiceUnavailable
			}
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    fiber.Map{"mongo": mongoStatus, "redis": redisStatus, "postgres": pgStatus},
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}

// probe reports "ok" or a generic failure; driver errors can carry hostnames.
func probe(err error) string {
	if err != nil {
		return "unavailable"
	}
	return "ok"
}
