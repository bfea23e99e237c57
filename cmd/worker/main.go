package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/certifychain/backend/internal/chain"
	"github.com/certifychain/backend/internal/config"
	"github.com/certifychain/backend/internal/db"
	"github.com/certifychain/backend/internal/events"
	"github.com/certifychain/backend/internal/models"
	"github.com/certifychain/backend/internal/repositories"
	"github.com/certifychain/backend/internal/resolve"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisCursorBlock = "reconciler:cursor:block"

	// How stale a pending certificate must be before the sweep retries its
	// on-chain lookup. Fresh pendings are still in the API's anchor flow.
	pendingSweepAge   = 10 * time.Minute
	pendingSweepLimit = 100
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	registry := connectRegistry(ctx, cfg, log)
	if registry == nil {
		log.Fatal("reconciler requires a chain connection; set CHAIN_RPC_URL, CONTRACT_ADDRESS and HOT_WALLET_KEY")
	}

	certRepo := repositories.NewCertificateRepo(pool)
	publisher := events.NewRedisPublisher(rdb, log)
	resolver := resolve.NewResolver(certRepo, registry, log)

	rec := &reconciler{
		registry:  registry,
		certRepo:  certRepo,
		resolver:  resolver,
		publisher: publisher,
		rdb:       rdb,
		window:    cfg.ReconcileBlockWindow,
		log:       log,
	}

	log.Info("reconciler started",
		zap.Duration("interval", cfg.ReconcileInterval),
		zap.Uint64("block_window", cfg.ReconcileBlockWindow),
	)

	scanTicker := time.NewTicker(cfg.ReconcileInterval)
	sweepTicker := time.NewTicker(pendingSweepAge / 2)
	defer scanTicker.Stop()
	defer sweepTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-scanTicker.C:
			if err := rec.scanLogs(ctx); err != nil {
				log.Error("log scan failed", zap.Error(err))
			}
		case <-sweepTicker.C:
			rec.sweepPending(ctx)
		case <-sigCh:
			log.Info("shutting down reconciler")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

type reconciler struct {
	registry  *chain.Client
	certRepo  *repositories.CertificateRepo
	resolver  *resolve.Resolver
	publisher events.Publisher
	rdb       *goredis.Client
	window    uint64
	log       *zap.Logger
}

// scanLogs advances the block cursor through [cursor+1, head] in windows,
// applying issue and revoke events the API missed (restarts, races, direct
// contract writes).
func (r *reconciler) scanLogs(ctx context.Context) error {
	head, err := r.registry.LatestBlock(ctx)
	if err != nil {
		return err
	}

	from, err := r.loadCursor(ctx, head)
	if err != nil {
		return err
	}
	if from > head {
		return nil
	}

	to := from + r.window - 1
	if to > head {
		to = head
	}

	issued, err := r.registry.FilterIssuedRange(ctx, from, to)
	if err != nil {
		return err
	}
	for _, ev := range issued {
		r.applyIssued(ctx, ev)
	}

	revoked, err := r.registry.FilterRevokedRange(ctx, from, to)
	if err != nil {
		return err
	}
	for _, ev := range revoked {
		r.applyRevoked(ctx, ev)
	}

	if err := r.rdb.Set(ctx, redisCursorBlock, to+1, 0).Err(); err != nil {
		return err
	}
	if len(issued) > 0 || len(revoked) > 0 {
		r.log.Info("scanned block range",
			zap.Uint64("from", from), zap.Uint64("to", to),
			zap.Int("issued", len(issued)), zap.Int("revoked", len(revoked)),
		)
	}
	return nil
}

// loadCursor returns the next block to scan. On first run the cursor starts
// one window behind head instead of at genesis.
func (r *reconciler) loadCursor(ctx context.Context, head uint64) (uint64, error) {
	cur, err := r.rdb.Get(ctx, redisCursorBlock).Uint64()
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, goredis.Nil) {
		return 0, err
	}
	if head > r.window {
		return head - r.window, nil
	}
	return 0, nil
}

// applyIssued links an on-chain issuance to its local record. The record may
// already carry the chain ID from the API's anchor flow; SetChainID writes
// only when the slot is still empty.
func (r *reconciler) applyIssued(ctx context.Context, ev chain.IssuedEvent) {
	chainID := ev.CertID.Hex()

	if _, err := r.certRepo.GetByChainID(ctx, chainID); err == nil {
		return
	} else if !errors.Is(err, pgx.ErrNoRows) {
		r.log.Error("chain id lookup failed", zap.String("cert_id", chainID), zap.Error(err))
		return
	}

	cert, err := r.certRepo.GetLatestByRecipientAndTitle(ctx, ev.Recipient.Hex(), ev.Name)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.log.Error("recipient lookup failed", zap.String("cert_id", chainID), zap.Error(err))
		}
		return
	}
	if cert.BlockchainCertID != nil {
		return
	}

	wrote, err := r.certRepo.SetChainID(ctx, cert.ID, chainID)
	if err != nil {
		r.log.Error("failed to link chain id", zap.String("cert_id", chainID), zap.Error(err))
		return
	}
	if !wrote {
		return
	}

	r.log.Info("linked certificate to chain",
		zap.String("id", cert.ID.String()),
		zap.String("cert_id", chainID),
		zap.Uint64("block", ev.Block),
	)
	r.publish(ctx, events.EventCertificateAnchored, cert.ID.String(), chainID)
}

func (r *reconciler) applyRevoked(ctx context.Context, ev chain.RevokedEvent) {
	chainID := ev.CertID.Hex()

	cert, err := r.certRepo.GetByChainID(ctx, chainID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.log.Error("chain id lookup failed", zap.String("cert_id", chainID), zap.Error(err))
		}
		return
	}
	if !models.IsValidTransition(cert.Status, models.CertStatusRevoked) {
		return
	}

	if err := r.certRepo.UpdateStatus(ctx, cert.ID, models.CertStatusRevoked); err != nil {
		r.log.Error("failed to mark revoked", zap.String("id", cert.ID.String()), zap.Error(err))
		return
	}

	r.log.Info("revocation reconciled",
		zap.String("id", cert.ID.String()),
		zap.String("cert_id", chainID),
		zap.Uint64("block", ev.Block),
	)
	r.publish(ctx, events.EventCertificateRevoked, cert.ID.String(), chainID)
}

// sweepPending retries the chain lookup for stale pending certificates whose
// anchor was submitted but never linked. The resolver performs the lookup and
// the conditional chain-id write.
func (r *reconciler) sweepPending(ctx context.Context) {
	certs, err := r.certRepo.ListPendingOlderThan(ctx, time.Now().Add(-pendingSweepAge), pendingSweepLimit)
	if err != nil {
		r.log.Error("failed to list pending certificates", zap.Error(err))
		return
	}

	for _, cert := range certs {
		res, err := r.resolver.ResolveByRecipientTitle(ctx, cert.RecipientAddress, cert.Title)
		if err != nil {
			if !errors.Is(err, resolve.ErrUnresolved) {
				r.log.Warn("pending sweep lookup failed",
					zap.String("id", cert.ID.String()), zap.Error(err))
			}
			continue
		}
		if res.ChainID == "" || res.Certificate == nil || res.Certificate.ID != cert.ID {
			continue
		}

		r.log.Info("pending certificate linked by sweep",
			zap.String("id", cert.ID.String()),
			zap.String("cert_id", res.ChainID),
		)
		r.publish(ctx, events.EventCertificateAnchored, cert.ID.String(), res.ChainID)
	}
}

func (r *reconciler) publish(ctx context.Context, eventType, certID, chainID string) {
	if err := r.publisher.Publish(ctx, events.StreamCertificates, events.Event{
		Type: eventType,
		Payload: map[string]any{
			"certificate_id":     certID,
			"blockchain_cert_id": chainID,
		},
	}); err != nil {
		r.log.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

// connectRegistry mirrors the API's chain bring-up: dial, connect the hot
// wallet session, signup if the wallet is not yet registered.
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
	return client
}
