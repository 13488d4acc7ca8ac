package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/http/dto"
	"github.com/v-inference/backend/internal/middleware"
	"github.com/v-inference/backend/internal/models"
	"github.com/v-inference/backend/internal/services"
	"go.uber.org/zap"
)

type AccountHandler struct {
	payoutService *services.PayoutService
	cfg           *config.Config
	log           *zap.Logger
}

func NewAccountHandler(payoutService *services.PayoutService, cfg *config.Config, log *zap.Logger) *AccountHandler {
	return &AccountHandler{payoutService: payoutService, cfg: cfg, log: log}
}

// GetMe returns the caller's balances.
// GET /accounts/me
func (h *AccountHandler) GetMe(c *fiber.Ctx) error {
	account, err := h.payoutService.GetAccount(c.Context(), middleware.GetAddress(c))
	if err != nil {
		h.log.Error("get account failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: account})
}

// DepositInfo tells the caller where to send TON to fund their account.
// The indexer credits the sending address once the transfer lands.
// GET /accounts/deposit-info
func (h *AccountHandler) DepositInfo(c *fiber.Ctx) error {
	return c.JSON(dto.DepositInfoResponse{
		TreasuryAddress: h.cfg.TONTreasuryAddress,
		Network:         h.cfg.TONNetwork,
	})
}

// Withdraw queues an on-chain payout of the caller's available balance.
// POST /accounts/withdraw
func (h *AccountHandler) Withdraw(c *fiber.Ctx) error {
	var req dto.WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	payout, err := h.payoutService.Withdraw(c.Context(), middleware.GetAddress(c), req.AmountNano)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidAmount), errors.Is(err, models.ErrInsufficientFunds):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		default:
			h.log.Error("withdraw failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
		}
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: payout})
}

// ListPayouts returns the caller's payout history, newest first.
// GET /accounts/payouts
func (h *AccountHandler) ListPayouts(c *fiber.Ctx) error {
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	payouts, err := h.payoutService.ListPayouts(c.Context(), middleware.GetAddress(c), limit, offset)
	if err != nil {
		h.log.Error("list payouts failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: payouts})
}
