package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/certifychain/backend/internal/auth"
	"github.com/certifychain/backend/internal/config"
	"github.com/certifychain/backend/internal/events"
	"github.com/certifychain/backend/internal/models"
	"github.com/certifychain/backend/internal/repositories"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrNonceInvalid    = errors.New("login nonce invalid or expired")
)

// AccountService owns wallet-challenge login and profile management.
type AccountService struct {
	profileRepo *repositories.ProfileRepo
	nonceRepo   *repositories.NonceRepo
	auditRepo   *repositories.AuditRepo
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewAccountService(
	profileRepo *repositories.ProfileRepo,
	nonceRepo *repositories.NonceRepo,
	auditRepo *repositories.AuditRepo,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *AccountService {
	return &AccountService{
		profileRepo: profileRepo,
		nonceRepo:   nonceRepo,
		auditRepo:   auditRepo,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

// LoginChallenge mints a one-time nonce for the wallet and returns the exact
// message the wallet must sign.
func (s *AccountService) LoginChallenge(ctx context.Context, walletAddress string) (nonce string, message string, err error) {
	n, err := s.nonceRepo.Create(ctx, uuid.NewString(), walletAddress, s.cfg.NonceTTL)
	if err != nil {
		return "", "", fmt.Errorf("failed to create login nonce: %w", err)
	}
	return n.Nonce, auth.BuildLoginMessage(n.Nonce, n.CreatedAt), nil
}

// Login consumes the nonce, verifies the wallet signature over the challenge
// message and returns a session token. A first login creates the profile and
// links the wallet in one step.
func (s *AccountService) Login(ctx context.Context, walletAddress, nonce, signature string) (string, *models.Profile, error) {
	n, err := s.nonceRepo.Consume(ctx, nonce, walletAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrNonceInvalid
		}
		return "", nil, fmt.Errorf("failed to consume nonce: %w", err)
	}

	message := auth.BuildLoginMessage(n.Nonce, n.CreatedAt)
	recovered, err := auth.VerifyWalletSignature(walletAddress, message, signature)
	if err != nil {
		return "", nil, fmt.Errorf("wallet signature verification failed: %w", err)
	}
	addr := strings.ToLower(recovered.Hex())

	profile, err := s.profileRepo.GetByWallet(ctx, addr)
	if errors.Is(err, pgx.ErrNoRows) {
		profile, err = s.profileRepo.Create(ctx, "", false)
		if err != nil {
			return "", nil, fmt.Errorf("failed to create profile: %w", err)
		}
		profile, err = s.profileRepo.LinkWallet(ctx, profile.ID, addr)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to load profile: %w", err)
	}

	token, err := auth.GenerateJWT(s.cfg.JWTSecret, profile.ID, addr, s.cfg.JWTExpiration)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &profile.ID,
		ActorType:   "user",
		Action:      "wallet_login",
		EntityType:  "profile",
		EntityID:    &profile.ID,
		Meta:        map[string]any{"wallet_address": addr},
	})

	s.log.Info("wallet login",
		zap.String("profile_id", profile.ID.String()),
		zap.String("wallet", addr),
	)
	return token, profile, nil
}

func (s *AccountService) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	p, err := s.profileRepo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

func (s *AccountService) UpdateName(ctx context.Context, id uuid.UUID, name string) (*models.Profile, error) {
	p, err := s.profileRepo.UpdateName(ctx, id, name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// Register fills in the profile created at first login: display name plus the
// issuer flag. Re-registering just overwrites both.
func (s *AccountService) Register(ctx context.Context, id uuid.UUID, name string, isIssuer bool) (*models.Profile, error) {
	if _, err := s.profileRepo.UpdateName(ctx, id, name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	if err := s.profileRepo.SetIssuer(ctx, id, isIssuer); err != nil {
		return nil, fmt.Errorf("failed to set issuer flag: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &id,
		ActorType:   "user",
		Action:      "profile_registered",
		EntityType:  "profile",
		EntityID:    &id,
		Meta:        map[string]any{"name": name, "is_issuer": isIssuer},
	})
	return s.profileRepo.GetByID(ctx, id)
}

// LinkWallet attaches a verified wallet to an existing profile. The caller
// must prove key ownership the same way login does.
func (s *AccountService) LinkWallet(ctx context.Context, id uuid.UUID, walletAddress, nonce, signature string) (*models.Profile, error) {
	n, err := s.nonceRepo.Consume(ctx, nonce, walletAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNonceInvalid
		}
		return nil, fmt.Errorf("failed to consume nonce: %w", err)
	}

	message := auth.BuildLoginMessage(n.Nonce, n.CreatedAt)
	recovered, err := auth.VerifyWalletSignature(walletAddress, message, signature)
	if err != nil {
		return nil, fmt.Errorf("wallet signature verification failed: %w", err)
	}
	addr := strings.ToLower(recovered.Hex())

	profile, err := s.profileRepo.LinkWallet(ctx, id, addr)
	if err != nil {
		if errors.Is(err, repositories.ErrWalletTaken) {
			return nil, err
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to link wallet: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &id,
		ActorType:   "user",
		Action:      "wallet_linked",
		EntityType:  "profile",
		EntityID:    &id,
		Meta:        map[string]any{"wallet_address": addr},
	})
	_ = s.publisher.Publish(ctx, events.StreamCertificates, events.Event{
		Type:    events.EventWalletLinked,
		Payload: map[string]any{"profile_id": id.String(), "wallet_address": addr},
	})

	return profile, nil
}

// UnlinkWallet detaches the profile's wallet. Sessions already issued for the
// wallet stay valid until they expire.
func (s *AccountService) UnlinkWallet(ctx context.Context, id uuid.UUID) error {
	if err := s.profileRepo.UnlinkWallet(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProfileNotFound
		}
		return fmt.Errorf("failed to unlink wallet: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &id,
		ActorType:   "user",
		Action:      "wallet_unlinked",
		EntityType:  "profile",
		EntityID:    &id,
	})
	return nil
}
