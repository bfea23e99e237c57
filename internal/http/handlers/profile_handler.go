package handlers

import (
	"errors"
	"strings"

	"github.com/certifychain/backend/internal/http/dto"
	"github.com/certifychain/backend/internal/middleware"
	"github.com/certifychain/backend/internal/repositories"
	"github.com/certifychain/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ProfileHandler struct {
	accounts *services.AccountService
	log      *zap.Logger
}

func NewProfileHandler(accounts *services.AccountService, log *zap.Logger) *ProfileHandler {
	return &ProfileHandler{accounts: accounts, log: log}
}

func (h *ProfileHandler) GetMe(c *fiber.Ctx) error {
	profile, err := h.accounts.GetProfile(c.Context(), middleware.GetUserID(c))
	if err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "profile not found"})
		}
		h.log.Error("failed to load profile", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(profile)
}

func (h *ProfileHandler) UpdateMe(c *fiber.Ctx) error {
	var req dto.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Name) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "name is required"})
	}

	profile, err := h.accounts.UpdateName(c.Context(), middleware.GetUserID(c), strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "profile not found"})
		}
		h.log.Error("failed to update profile", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(profile)
}

// Register fills in the profile's display name and issuer flag.
func (h *ProfileHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Name) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "name is required"})
	}

	profile, err := h.accounts.Register(c.Context(), middleware.GetUserID(c), strings.TrimSpace(req.Name), req.IsIssuer)
	if err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "profile not found"})
		}
		h.log.Error("failed to register profile", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(profile)
}

// LinkWallet attaches a signature-verified wallet to the session profile.
func (h *ProfileHandler) LinkWallet(c *fiber.Ctx) error {
	var req dto.LinkWalletRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.WalletAddress == "" || req.Nonce == "" || req.Signature == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "wallet_address, nonce and signature are required"})
	}

	profile, err := h.accounts.LinkWallet(c.Context(), middleware.GetUserID(c), req.WalletAddress, req.Nonce, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrWalletTaken):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "wallet already linked to another profile"})
		case errors.Is(err, services.ErrNonceInvalid):
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "nonce invalid or expired"})
		case errors.Is(err, services.ErrProfileNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "profile not found"})
		}
		h.log.Debug("wallet link rejected", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "signature verification failed"})
	}
	return c.JSON(profile)
}

func (h *ProfileHandler) UnlinkWallet(c *fiber.Ctx) error {
	if err := h.accounts.UnlinkWallet(c.Context(), middleware.GetUserID(c)); err != nil {
		if errors.Is(err, services.ErrProfileNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "profile not found"})
		}
		h.log.Error("failed to unlink wallet", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
