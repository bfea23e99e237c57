package handlers

import (
	"errors"

	"github.com/certifychain/backend/internal/chain"
	"github.com/certifychain/backend/internal/http/dto"
	"github.com/certifychain/backend/internal/middleware"
	"github.com/certifychain/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CertificateHandler struct {
	certs *services.CertificateService
	log   *zap.Logger
}

func NewCertificateHandler(certs *services.CertificateService, log *zap.Logger) *CertificateHandler {
	return &CertificateHandler{certs: certs, log: log}
}

func (h *CertificateHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateCertificateRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	cert, err := h.certs.Create(c.Context(), middleware.GetUserID(c), req.Title, req.Description, req.RecipientAddress)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotIssuer):
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "issuer profile required"})
		case errors.Is(err, services.ErrInvalidRecipient):
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "recipient_address is not a valid address"})
		case errors.Is(err, services.ErrProfileNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "profile not found"})
		}
		h.log.Error("failed to create certificate", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.CertificateResponse{
		Certificate: cert,
		ShareURL:    h.certs.ShareURL(cert),
	})
}

func (h *CertificateHandler) ListMine(c *fiber.Ctx) error {
	certs, err := h.certs.ListByIssuer(c.Context(), middleware.GetUserID(c))
	if err != nil {
		h.log.Error("failed to list certificates", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(certs)
}

func (h *CertificateHandler) ListReceived(c *fiber.Ctx) error {
	wallet := middleware.GetWalletAddress(c)
	if wallet == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "no wallet linked to this profile"})
	}

	certs, err := h.certs.ListByRecipient(c.Context(), wallet)
	if err != nil {
		h.log.Error("failed to list received certificates", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}
	return c.JSON(certs)
}

func (h *CertificateHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid certificate id"})
	}

	cert, err := h.certs.GetByID(c.Context(), id)
	if err != nil {
		if errors.Is(err, services.ErrCertNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "certificate not found"})
		}
		h.log.Error("failed to load certificate", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.CertificateResponse{
		Certificate: cert,
		ShareURL:    h.certs.ShareURL(cert),
	})
}

// Anchor registers the certificate on-chain.
func (h *CertificateHandler) Anchor(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid certificate id"})
	}

	cert, err := h.certs.Anchor(c.Context(), middleware.GetUserID(c), id, c.Get("Idempotency-Key"))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCertNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "certificate not found"})
		case errors.Is(err, services.ErrNotOwner):
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "certificate belongs to another issuer"})
		case errors.Is(err, services.ErrAlreadyAnchored):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "certificate already anchored"})
		case errors.Is(err, services.ErrAnchorKeyReused):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "idempotency key already used"})
		case errors.Is(err, services.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "certificate is not pending"})
		case errors.Is(err, services.ErrChainUnavailable), errors.Is(err, chain.ErrConfirmTimeout):
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.log.Error("failed to anchor certificate", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "on-chain issuance failed"})
	}

	return c.JSON(dto.CertificateResponse{
		Certificate: cert,
		ShareURL:    h.certs.ShareURL(cert),
	})
}

func (h *CertificateHandler) Revoke(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid certificate id"})
	}

	cert, err := h.certs.Revoke(c.Context(), middleware.GetUserID(c), id)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrCertNotFound):
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "certificate not found"})
		case errors.Is(err, services.ErrNotOwner):
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "certificate belongs to another issuer"})
		case errors.Is(err, services.ErrInvalidTransition):
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "certificate cannot be revoked"})
		case errors.Is(err, services.ErrChainUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		h.log.Error("failed to revoke certificate", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "on-chain revocation failed"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: cert})
}
