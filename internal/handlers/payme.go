package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/example/paygate/internal/services"
)

// PaymeHandler exposes the Payme JSON-RPC webhook endpoint. It is a thin
// shell: the dispatcher owns signature verification and method routing, and
// every reply - success or business error - goes out with HTTP 200.
type PaymeHandler struct {
	dispatcher *services.GatewayDispatcher
}

func NewPaymeHandler(dispatcher *services.GatewayDispatcher) *PaymeHandler {
	return &PaymeHandler{dispatcher: dispatcher}
}

// Pay handles Payme JSON-RPC calls on /payments/payme.
func (h *PaymeHandler) Pay(c *fiber.Ctx) error {
	body := c.Body()
	signature := c.Get("X-Payme-Signature")

	resp := h.dispatcher.HandlePayme(c.UserContext(), body, signature)
	return c.JSON(resp)
}
