package handlers

import (
	"errors"
	"strings"

	"github.com/certifychain/backend/internal/http/dto"
	"github.com/certifychain/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AIHandler struct {
	ai  *services.AIClient
	log *zap.Logger
}

func NewAIHandler(ai *services.AIClient, log *zap.Logger) *AIHandler {
	return &AIHandler{ai: ai, log: log}
}

func (h *AIHandler) SuggestDescription(c *fiber.Ctx) error {
	var req dto.SuggestDescriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Title) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "title is required"})
	}

	text, err := h.ai.SuggestDescription(c.Context(), strings.TrimSpace(req.Title))
	if err != nil {
		if errors.Is(err, services.ErrAIUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "suggestions temporarily unavailable"})
		}
		h.log.Error("suggestion request failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "suggestion request failed"})
	}

	return c.JSON(dto.SuggestDescriptionResponse{Description: text})
}

func (h *AIHandler) AnalyzeProfile(c *fiber.Ctx) error {
	var req dto.ProfileAnalysisRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if len(req.CertificateTitles) == 0 || strings.TrimSpace(req.TargetRole) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "certificate_titles and target_role are required"})
	}

	text, err := h.ai.AnalyzeProfile(c.Context(), req.CertificateTitles, strings.TrimSpace(req.TargetRole))
	if err != nil {
		if errors.Is(err, services.ErrAIUnavailable) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Error: "analysis temporarily unavailable"})
		}
		h.log.Error("analysis request failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: "analysis request failed"})
	}

	return c.JSON(dto.ProfileAnalysisResponse{Analysis: text})
}
