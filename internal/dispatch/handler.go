package dispatch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/custody_ledger/internal/account"
	"github.com/congo-pay/custody_ledger/internal/asset"
	"github.com/congo-pay/custody_ledger/internal/ledger"
)

// CallerLocal is the fiber.Ctx locals key holding the authenticated account.Address.
const CallerLocal = "caller"

// Handler exposes the dispatcher over HTTP.
type Handler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewHandler constructs a dispatch handler.
func NewHandler(dispatcher *Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, logger: logger}
}

type executeRequest struct {
	Funds asset.Coins     `json:"funds"`
	Msg   json.RawMessage `json:"msg"`
}

// Execute handles POST /execute. The caller comes from authentication; the
// attached funds and the message come from the body. Funds are passed through
// as sent: the ledger picks out the allowed denomination and ignores the rest.
func (h *Handler) Execute(c *fiber.Ctx) error {
	caller, ok := c.Locals(CallerLocal).(account.Address)
	if !ok || caller == "" {
		return fiber.NewError(http.StatusUnauthorized, "missing caller")
	}

	var req executeRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return h.fail(c, errors.Join(ErrUnknownMessage, err))
	}
	msg, err := DecodeExecute(req.Msg)
	if err != nil {
		return h.fail(c, err)
	}

	res, err := h.dispatcher.Execute(c.UserContext(), caller, req.Funds, msg)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

// Query handles POST /query with a raw QueryMsg body.
func (h *Handler) Query(c *fiber.Ctx) error {
	msg, err := DecodeQuery(c.Body())
	if err != nil {
		return h.fail(c, err)
	}
	return h.query(c, msg)
}

// Config handles GET /config.
func (h *Handler) Config(c *fiber.Ctx) error {
	return h.query(c, QueryMsg{GetState: &GetStateMsg{}})
}

// Balance handles GET /balances/:address.
func (h *Handler) Balance(c *fiber.Ctx) error {
	return h.query(c, QueryMsg{GetDeposit: &GetDepositMsg{Owner: c.Params("address")}})
}

// Balances handles GET /balances?start_after=&limit=.
func (h *Handler) Balances(c *fiber.Ctx) error {
	msg := &GetAllDepositMsg{StartAfter: c.Query("start_after")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return h.fail(c, errors.Join(ErrUnknownMessage, errors.New("limit must be a non-negative integer")))
		}
		msg.Limit = &limit
	}
	return h.query(c, QueryMsg{GetAllDeposit: msg})
}

// Total handles GET /total.
func (h *Handler) Total(c *fiber.Ctx) error {
	return h.query(c, QueryMsg{GetTotalDeposit: &GetTotalDepositMsg{}})
}

func (h *Handler) query(c *fiber.Ctx, msg QueryMsg) error {
	res, err := h.dispatcher.Query(c.UserContext(), msg)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(http.StatusOK).JSON(res)
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status, code := Status(err)
	if status >= http.StatusInternalServerError {
		reqID, _ := c.Locals("X-Request-ID").(string) // set by middleware.RequestID
		h.logger.Error("dispatch failed", slog.String("request_id", reqID), slog.String("code", code), slog.Any("error", err))
	}
	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

// Status maps an error to its HTTP status and stable code.
func Status(err error) (int, string) {
	code := ledger.Code(err)
	switch code {
	case "invalid_amount", "funds_not_empty", "invalid_address", "invalid_config":
		return http.StatusBadRequest, code
	case "not_found":
		return http.StatusNotFound, code
	case "no_deposit", "already_initialized":
		return http.StatusConflict, code
	case "insufficient_balance", "amount_overflow":
		return http.StatusUnprocessableEntity, code
	case "not_initialized":
		return http.StatusServiceUnavailable, code
	case "storage_failure":
		return http.StatusInternalServerError, code
	}

	switch {
	case errors.Is(err, asset.ErrInvalidAmount), errors.Is(err, asset.ErrOverflow):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, ErrUnknownMessage):
		return http.StatusBadRequest, "unknown_message"
	}
	return http.StatusInternalServerError, "internal"
}
