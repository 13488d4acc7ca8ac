package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/v-inference/backend/internal/http/dto"
	"github.com/v-inference/backend/internal/middleware"
	"github.com/v-inference/backend/internal/models"
	"github.com/v-inference/backend/internal/services"
	"go.uber.org/zap"
)

type AdminHandler struct {
	escrowService *services.EscrowService
	payoutService *services.PayoutService
	log           *zap.Logger
}

func NewAdminHandler(escrowService *services.EscrowService, payoutService *services.PayoutService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{escrowService: escrowService, payoutService: payoutService, log: log}
}

// GetSettings returns the current ledger settings.
// GET /admin/settings
func (h *AdminHandler) GetSettings(c *fiber.Ctx) error {
	settings, err := h.escrowService.GetSettings(c.Context())
	if err != nil {
		h.log.Error("get settings failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: settings})
}

// SetVerifier configures or clears the proof verifier.
// PUT /admin/verifier
func (h *AdminHandler) SetVerifier(c *fiber.Ctx) error {
	var req dto.SetVerifierRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	caller := middleware.GetAddress(c)
	if err := h.escrowService.SetVerifier(c.Context(), caller, req.Kind, req.Endpoint); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "admin access required"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// TransferAdmin hands the admin role to another address.
// POST /admin/transfer
func (h *AdminHandler) TransferAdmin(c *fiber.Ctx) error {
	var req dto.TransferAdminRequest
	if err := c.BodyParser(&req); err != nil || req.NewAdmin == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "new_admin is required"})
	}

	caller := middleware.GetAddress(c)
	if err := h.escrowService.TransferAdmin(c.Context(), caller, req.NewAdmin); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "admin access required"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// Sweep queues a payout of treasury funds above ledger liabilities.
// POST /admin/sweep
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	caller := middleware.GetAddress(c)
	payout, err := h.payoutService.SweepResidual(c.Context(), caller)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "admin access required"})
		case errors.Is(err, models.ErrNoResidual):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "nothing to sweep"})
		default:
			h.log.Error("sweep failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: payout})
}
