package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/v-inference/backend/internal/auth"
	"github.com/v-inference/backend/internal/config"
	"github.com/v-inference/backend/internal/http/dto"
	"github.com/v-inference/backend/internal/models"
	"go.uber.org/zap"
)

type nonceStore interface {
	Create(ctx context.Context, ttl time.Duration) (*models.AuthNonce, error)
	Consume(ctx context.Context, payload string) (*models.AuthNonce, error)
}

type AuthHandler struct {
	nonces nonceStore
	cfg    *config.Config
	log    *zap.Logger
}

func NewAuthHandler(nonces nonceStore, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{nonces: nonces, cfg: cfg, log: log}
}

// ProofPayload issues a one-time challenge the wallet must sign.
// POST /auth/proof-payload
func (h *AuthHandler) ProofPayload(c *fiber.Ctx) error {
	nonce, err := h.nonces.Create(c.Context(), h.cfg.NonceTTL)
	if err != nil {
		h.log.Error("failed to create auth nonce", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.ProofPayloadResponse{
		Payload:   nonce.Payload,
		ExpiresAt: nonce.ExpiresAt.Format(time.RFC3339),
	})
}

// VerifyProof checks the signed challenge and issues a JWT bound to the
// wallet address. The payload is consumed first so a captured proof can
// never be replayed.
// POST /auth/verify
func (h *AuthHandler) VerifyProof(c *fiber.Ctx) error {
	var req dto.VerifyProofRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Address == "" || req.PublicKey == "" || req.Payload == "" || req.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "address, public_key, payload and signature are required"})
	}

	if _, err := h.nonces.Consume(c.Context(), req.Payload); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "unknown or expired payload"})
	}

	address, err := auth.VerifyWalletProof(req.Address, req.PublicKey, req.Signature, req.Payload)
	if err != nil {
		h.log.Debug("wallet proof rejected", zap.String("address", req.Address), zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid wallet proof"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, address, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to sign jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthTokenResponse{Token: token, Address: address})
}
