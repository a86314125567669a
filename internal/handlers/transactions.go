package handlers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/paygate/internal/models"
	"github.com/example/paygate/internal/utils"
)

// TransactionHandler serves the back-office transaction listing.
type TransactionHandler struct {
	db *gorm.DB
}

func NewTransactionHandler(db *gorm.DB) *TransactionHandler {
	return &TransactionHandler{db: db}
}

// List returns transaction history, optionally filtered.
func (h *TransactionHandler) List(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.Transaction{})

	if provider := strings.TrimSpace(c.Query("provider")); provider != "" {
		query = query.Where("provider = ?", provider)
	}
	if state := strings.TrimSpace(c.Query("state")); state != "" {
		code, err := strconv.Atoi(state)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid state")
		}
		query = query.Where("state = ?", code)
	}
	if orderID := strings.TrimSpace(c.Query("order_id")); orderID != "" {
		query = query.Where("order_id = ?", orderID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var txns []models.Transaction
	if err := query.
		Order("created_at desc").
		Limit(pg.Limit).
		Offset(pg.Offset).
		Find(&txns).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    txns,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}
