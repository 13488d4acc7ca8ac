package handlers

import (
	"encoding/base64"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/v-inference/backend/internal/http/dto"
	"github.com/v-inference/backend/internal/middleware"
	"github.com/v-inference/backend/internal/models"
	"github.com/v-inference/backend/internal/repositories"
	"github.com/v-inference/backend/internal/services"
	"go.uber.org/zap"
)

type EscrowHandler struct {
	escrowService *services.EscrowService
	log           *zap.Logger
}

func NewEscrowHandler(escrowService *services.EscrowService, log *zap.Logger) *EscrowHandler {
	return &EscrowHandler{escrowService: escrowService, log: log}
}

// respondError maps ledger errors onto HTTP statuses. Unknown errors are the
// caller's fault only if they wrap a known sentinel; anything else is a 500.
func (h *EscrowHandler) respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "escrow not found"})
	case errors.Is(err, models.ErrUnauthorized):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not allowed"})
	case errors.Is(err, models.ErrAlreadySettled):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "escrow already settled"})
	case errors.Is(err, models.ErrDuplicateJob):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "job_id already exists"})
	case errors.Is(err, models.ErrTooEarly):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "refund window has not elapsed"})
	case errors.Is(err, models.ErrVerifierNotConfigured):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "proof verifier is not configured"})
	case errors.Is(err, models.ErrVerificationFailed):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Error: "proof verification failed"})
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidProvider),
		errors.Is(err, models.ErrInsufficientFunds):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("escrow operation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
}

func (h *EscrowHandler) CreateEscrow(c *fiber.Ctx) error {
	var req dto.CreateEscrowRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.JobID == "" || req.Provider == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "job_id and provider are required"})
	}

	buyer := middleware.GetAddress(c)
	escrow, err := h.escrowService.CreateEscrow(c.Context(), buyer, req.JobID, req.Provider, req.AmountNano)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) GetEscrow(c *fiber.Ctx) error {
	escrow, err := h.escrowService.GetEscrow(c.Context(), c.Params("jobId"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) IsPending(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	pending, err := h.escrowService.IsPending(c.Context(), jobID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.PendingResponse{JobID: jobID, Pending: pending})
}

func (h *EscrowHandler) ListEscrows(c *fiber.Ctx) error {
	addr := middleware.GetAddress(c)
	filter := repositories.EscrowFilter{Limit: 20}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = v
	}

	switch c.Query("role") {
	case "provider":
		filter.Provider = addr
	default:
		filter.Buyer = addr
	}

	escrows, err := h.escrowService.ListEscrows(c.Context(), filter)
	if err != nil {
		h.log.Error("list escrows failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrows})
}

func (h *EscrowHandler) ReleaseEscrow(c *fiber.Ctx) error {
	var req dto.ReleaseEscrowRequest
	_ = c.BodyParser(&req)

	caller := middleware.GetAddress(c)
	escrow, err := h.escrowService.ReleaseEscrow(c.Context(), c.Params("jobId"), req.ProofHash, caller)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) ReleaseWithProof(c *fiber.Ctx) error {
	var req dto.ReleaseWithProofRequest
	if err := c.BodyParser(&req); err != nil || req.Proof == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "proof is required"})
	}

	proof, err := base64.StdEncoding.DecodeString(req.Proof)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "proof must be base64"})
	}

	caller := middleware.GetAddress(c)
	escrow, err := h.escrowService.ReleaseWithProof(c.Context(), c.Params("jobId"), proof, req.PublicInputs, caller)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) RefundEscrow(c *fiber.Ctx) error {
	var req dto.RefundEscrowRequest
	_ = c.BodyParser(&req)

	caller := middleware.GetAddress(c)
	escrow, err := h.escrowService.RefundEscrow(c.Context(), c.Params("jobId"), req.Reason, caller)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: escrow})
}

func (h *EscrowHandler) GetEscrowEvents(c *fiber.Ctx) error {
	entries, err := h.escrowService.GetEscrowEvents(c.Context(), c.Params("jobId"))
	if err != nil {
		h.log.Error("get escrow events failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}
