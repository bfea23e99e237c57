package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/certifychain/backend/internal/chain"
	"github.com/certifychain/backend/internal/config"
	"github.com/certifychain/backend/internal/db"
	"github.com/certifychain/backend/internal/events"
	apphttp "github.com/certifychain/backend/internal/http"
	"github.com/certifychain/backend/internal/http/handlers"
	"github.com/certifychain/backend/internal/repositories"
	"github.com/certifychain/backend/internal/resolve"
	"github.com/certifychain/backend/internal/services"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Chain registry client (optional: the API keeps serving without it)
	registry := connectRegistry(ctx, cfg, log)

	// Repositories
	profileRepo := repositories.NewProfileRepo(pool)
	certRepo := repositories.NewCertificateRepo(pool)
	nonceRepo := repositories.NewNonceRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	var chainReader resolve.ChainReader
	if registry != nil {
		chainReader = registry
	}
	resolver := resolve.NewResolver(certRepo, chainReader, log)
	ipfsClient := services.NewIPFSClient(cfg.IPFSAPIURL, cfg.IPFSGatewayURL, log)
	aiClient := services.NewAIClient(cfg.AIHelperURL, cfg.AIHelperKey, cfg.AIHelperTimeout, rdb, log)
	accountService := services.NewAccountService(profileRepo, nonceRepo, auditRepo, publisher, cfg, log)

	var registryIface services.Registry
	if registry != nil {
		registryIface = registry
	}
	certService := services.NewCertificateService(certRepo, profileRepo, auditRepo, resolver, registryIface, ipfsClient, publisher, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(accountService, log)
	profileHandler := handlers.NewProfileHandler(accountService, log)
	certHandler := handlers.NewCertificateHandler(certService, log)
	verifyHandler := handlers.NewVerifyHandler(certService, log)
	aiHandler := handlers.NewAIHandler(aiClient, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, profileHandler, certHandler, verifyHandler, aiHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

// connectRegistry dials the chain node and brings the hot wallet session up:
// connect, then signup (an already-registered wallet is a no-op). Any failure
// is logged and leaves the registry nil; chain endpoints report unavailable.
func connectRegistry(ctx context.Context, cfg *config.Config, log *zap.Logger) *chain.Client {
	if cfg.ContractAddress == "" || cfg.HotWalletKey == "" {
		return nil
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		log.Error("CONTRACT_ADDRESS is not a valid address", zap.String("value", cfg.ContractAddress))
		return nil
	}

	node, err := chain.Dial(ctx, cfg.ChainRPCURL)
	if err != nil {
		log.Error("failed to dial chain rpc", zap.Error(err))
		return nil
	}

	wallet, err := chain.NewLocalWallet(cfg.HotWalletKey, node)
	if err != nil {
		log.Error("failed to load hot wallet", zap.Error(err))
		return nil
	}

	client := chain.NewClient(wallet, node, common.HexToAddress(cfg.ContractAddress), chain.Options{
		ReceiptPollInterval: cfg.ReceiptPollInterval,
		ConfirmTimeout:      cfg.ConfirmTimeout,
	}, log)

	if _, err := client.Connect(ctx); err != nil {
		log.Error("failed to connect registry session", zap.Error(err))
		return nil
	}
	if client.State() == chain.StateUnregistered {
		if err := client.Signup(ctx, "CertifyChain Service", true); err != nil {
			log.Error("hot wallet signup failed", zap.Error(err))
		}
	}
	if rec := client.UserRecord(); rec != nil {
		log.Info("registry session ready",
			zap.String("name", rec.Name), zap.Bool("issuer", rec.IsHR))
	}

	log.Info("chain registry connected",
		zap.String("contract", cfg.ContractAddress),
		zap.String("state", client.State().String()),
	)
	return client
}
