package handlers

import (
	"errors"

	"github.com/certifychain/backend/internal/http/dto"
	"github.com/certifychain/backend/internal/services"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	accounts *services.AccountService
	log      *zap.Logger
}

func NewAuthHandler(accounts *services.AccountService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{accounts: accounts, log: log}
}

// Challenge mints a login nonce for a wallet address.
func (h *AuthHandler) Challenge(c *fiber.Ctx) error {
	var req dto.LoginChallengeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if !common.IsHexAddress(req.WalletAddress) {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "wallet_address is not a valid address"})
	}

	nonce, message, err := h.accounts.LoginChallenge(c.Context(), req.WalletAddress)
	if err != nil {
		h.log.Error("failed to create login challenge", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.LoginChallengeResponse{Nonce: nonce, Message: message})
}

// Login exchanges a signed challenge for a session token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.WalletAddress == "" || req.Nonce == "" || req.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "wallet_address, nonce and signature are required"})
	}

	token, profile, err := h.accounts.Login(c.Context(), req.WalletAddress, req.Nonce, req.Signature)
	if err != nil {
		if errors.Is(err, services.ErrNonceInvalid) {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "nonce invalid or expired"})
		}
		h.log.Debug("wallet login rejected", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "signature verification failed"})
	}

	return c.JSON(dto.AuthResponse{Token: token, Profile: profile})
}
