package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody_ledger/internal/dispatch"
	"github.com/congo-pay/custody_ledger/internal/middleware"
)

// RegisterLedgerRoutes wires the execute and query surface. Only execute is
// authenticated, rate limited and idempotent; queries are public reads.
func RegisterLedgerRoutes(r fiber.Router, h *dispatch.Handler, d Deps) {
	execute := []fiber.Handler{
		middleware.CallerAuth(d.Tokens),
		middleware.ExecuteRateLimit(d.Cache, d.Cfg.ExecuteRateLimit),
	}
	if d.Cache != nil {
		execute = append(execute, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	execute = append(execute, h.Execute)
	r.Post("/execute", execute...)

	r.Post("/query", h.Query)
	r.Get("/config", h.Config)
	r.Get("/balances", h.Balances)
	r.Get("/balances/:address", h.Balance)
	r.Get("/total", h.Total)
}
