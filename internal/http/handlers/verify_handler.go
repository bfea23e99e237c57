package handlers

import (
	"errors"

	"github.com/certifychain/backend/internal/http/dto"
	"github.com/certifychain/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// VerifyHandler serves the public verification surface. No session required:
// anyone holding a share link or registry ID may check a certificate.
type VerifyHandler struct {
	certs *services.CertificateService
	log   *zap.Logger
}

func NewVerifyHandler(certs *services.CertificateService, log *zap.Logger) *VerifyHandler {
	return &VerifyHandler{certs: certs, log: log}
}

func (h *VerifyHandler) Verify(c *fiber.Ctx) error {
	var req dto.VerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.Identifier == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "identifier is required"})
	}

	result, err := h.certs.VerifyByIdentifier(c.Context(), req.Identifier)
	if err != nil {
		if errors.Is(err, services.ErrVerifyUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "verification temporarily unavailable"})
		}
		h.log.Error("verification failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(result)
}

func (h *VerifyHandler) VerifyByRecipient(c *fiber.Ctx) error {
	var req dto.VerifyByRecipientRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.RecipientAddress == "" || req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "recipient_address and title are required"})
	}

	result, err := h.certs.VerifyByRecipientTitle(c.Context(), req.RecipientAddress, req.Title)
	if err != nil {
		if errors.Is(err, services.ErrVerifyUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "verification temporarily unavailable"})
		}
		h.log.Error("verification failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(result)
}

// GetShared serves the public share-link view of a certificate.
func (h *VerifyHandler) GetShared(c *fiber.Ctx) error {
	token := c.Params("token")

	cert, err := h.certs.GetShared(c.Context(), token)
	if err != nil {
		if errors.Is(err, services.ErrCertNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "certificate not found"})
		}
		h.log.Error("failed to load shared certificate", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.CertificateResponse{
		Certificate: cert,
		ShareURL:    h.certs.ShareURL(&cert.Certificate),
	})
}
