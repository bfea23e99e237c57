package http

import (
	"time"

	"github.com/certifychain/backend/internal/config"
	"github.com/certifychain/backend/internal/http/handlers"
	"github.com/certifychain/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	profileHandler *handlers.ProfileHandler,
	certHandler *handlers.CertificateHandler,
	verifyHandler *handlers.VerifyHandler,
	aiHandler *handlers.AIHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public)
	api.Post("/auth/challenge", authHandler.Challenge)
	api.Post("/auth/login", authHandler.Login)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Verification (public, no auth required)
	api.Post("/verify", verifyHandler.Verify)
	api.Post("/verify/by-recipient", verifyHandler.VerifyByRecipient)
	api.Get("/shared/:token", verifyHandler.GetShared)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Profile
	protected.Get("/me", profileHandler.GetMe)
	protected.Put("/me", profileHandler.UpdateMe)
	protected.Post("/me/register", profileHandler.Register)
	protected.Post("/me/wallet", profileHandler.LinkWallet)
	protected.Delete("/me/wallet", profileHandler.UnlinkWallet)

	// Certificates
	protected.Post("/certificates", certHandler.Create)
	protected.Get("/certificates", certHandler.ListMine)
	protected.Get("/certificates/received", certHandler.ListReceived)
	protected.Get("/certificates/:id", certHandler.Get)
	protected.Post("/certificates/:id/anchor", certHandler.Anchor)
	protected.Post("/certificates/:id/revoke", certHandler.Revoke)

	// AI helpers
	protected.Post("/ai/suggest-description", aiHandler.SuggestDescription)
	protected.Post("/ai/profile-analysis", aiHandler.AnalyzeProfile)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
