package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody_ledger/internal/infra"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		status := fiber.Map{}
		healthy := true
		check := func(name string, err error) {
			if err != nil {
				status[name] = err.Error()
				healthy = false
				return
			}
			status[name] = "ok"
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			check("postgres", d.DB.Ping(ctx))
		}
		if d.Cache != nil {
			check("redis", d.Cache.Ping(ctx).Err())
		}
		if len(d.Cfg.KafkaBrokers) > 0 {
			check("kafka", infra.PingKafka(ctx, d.Cfg.KafkaBrokers))
		}
		_, err := d.Ledger.Config(ctx)
		check("ledger", err)

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		})
	})
}
