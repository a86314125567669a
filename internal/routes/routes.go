package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/paygate/internal/config"
	"github.com/example/paygate/internal/database"
	"github.com/example/paygate/internal/handlers"
	"github.com/example/paygate/internal/middleware"
	"github.com/example/paygate/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) {
	store := database.NewTransactionRepository(db)
	orders := services.NewOrderClient(cfg.OrderServiceURL)

	clickService := services.NewClickService(store, orders, cfg.ClickSecretKey)
	paymeService := services.NewPaymeService(store, orders)
	dispatcher := services.NewGatewayDispatcher(clickService, paymeService, cfg.PaymeMerchantKey)

	clickHandler := handlers.NewClickHandler(dispatcher)
	paymeHandler := handlers.NewPaymeHandler(dispatcher)
	txHandler := handlers.NewTransactionHandler(db)

	api := app.Group("/api")
	payments := api.Group("/payments")

	// Webhook routes authenticate by provider signature, not by JWT.
	payments.Post("/payme", paymeHandler.Pay)
	payments.Post("/click/prepare", clickHandler.Webhook)
	payments.Post("/click/complete", clickHandler.Webhook)

	protected := api.Group("", middleware.AdminAuthMiddleware(cfg))
	protected.Get("/payments/transactions", txHandler.List)
}
