package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/example/paygate/internal/services"
)

// ClickHandler exposes the Click webhook endpoints. Click posts prepare and
// complete to separate URLs but the action field carries the routing truth,
// so both paths share one handler and the dispatcher decides.
type ClickHandler struct {
	dispatcher *services.GatewayDispatcher
}

func NewClickHandler(dispatcher *services.GatewayDispatcher) *ClickHandler {
	return &ClickHandler{dispatcher: dispatcher}
}

// Webhook handles both Click actions.
func (h *ClickHandler) Webhook(c *fiber.Ctx) error {
	var req services.ClickRequest
	if err := c.BodyParser(&req); err != nil {
		log.Debug().Err(err).Msg("unparseable click webhook body")
		return c.JSON(services.ClickResponse{
			Error:     services.ClickErrInternal,
			ErrorNote: "Invalid request body",
		})
	}

	resp := h.dispatcher.HandleClick(c.UserContext(), req)
	return c.JSON(resp)
}
