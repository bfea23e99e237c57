package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/certifychain/backend/internal/chain"
	"github.com/certifychain/backend/internal/config"
	"github.com/certifychain/backend/internal/events"
	"github.com/certifychain/backend/internal/models"
	"github.com/certifychain/backend/internal/repositories"
	"github.com/certifychain/backend/internal/resolve"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	ErrNotIssuer         = errors.New("profile is not an issuer")
	ErrNotOwner          = errors.New("certificate belongs to another issuer")
	ErrCertNotFound      = errors.New("certificate not found")
	ErrInvalidRecipient  = errors.New("recipient is not a valid wallet address")
	ErrInvalidTransition = errors.New("certificate status transition not allowed")
	ErrChainUnavailable  = errors.New("chain registry unavailable")
	ErrAlreadyAnchored   = errors.New("certificate already anchored")
	ErrAnchorKeyReused   = errors.New("idempotency key already used for another certificate")
	ErrVerifyUnavailable = errors.New("verification temporarily unavailable")
)

// CertificateStore is the persistence surface the service needs. Satisfied by
// *repositories.CertificateRepo.
type CertificateStore interface {
	Create(ctx context.Context, title, description string, issuerID uuid.UUID, recipientAddress, shareToken string) (*models.Certificate, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Certificate, error)
	GetByShareTokenWithIssuer(ctx context.Context, token string) (*models.CertificateWithIssuer, error)
	GetByAnchorKey(ctx context.Context, anchorKey string) (*models.Certificate, error)
	ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]models.Certificate, error)
	ListByRecipient(ctx context.Context, recipientAddress string) ([]models.Certificate, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	SetAnchorKey(ctx context.Context, id uuid.UUID, anchorKey string) error
	SetMetadataURI(ctx context.Context, id uuid.UUID, uri string) error
	SetChainID(ctx context.Context, id uuid.UUID, chainID string) (bool, error)
}

// AuditSink records audit entries. Satisfied by *repositories.AuditRepo.
type AuditSink interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// Registry is the slice of the chain client the service needs.
type Registry interface {
	IssueCertificate(ctx context.Context, name string, recipient common.Address, ipfsHash string) (common.Hash, error)
	RevokeCertificate(ctx context.Context, certID string) error
	VerifyCertificate(ctx context.Context, certID string) (chain.VerifyStatus, error)
	GetCertificateDetails(ctx context.Context, certID string) (*chain.Certificate, error)
}

// MetadataUploader publishes certificate metadata and returns its URI and the
// bare content hash handed to the contract.
type MetadataUploader interface {
	UploadMetadata(ctx context.Context, meta CertificateMetadata) (uri string, contentHash string, err error)
}

// CertificateMetadata is the document pinned alongside an anchored
// certificate.
type CertificateMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Issuer      string `json:"issuer"`
	Recipient   string `json:"recipient"`
	IssuedAt    string `json:"issued_at"`
}

// Verification statuses surfaced by VerifyByIdentifier. Chain statuses pass
// through; "pending" covers records that exist locally but were never
// anchored.
const (
	VerifyStatusValid    = "valid"
	VerifyStatusRevoked  = "revoked"
	VerifyStatusNotFound = "not_found"
	VerifyStatusPending  = "pending"
	VerifyStatusUnknown  = "unknown"
)

// VerifyResult is the outcome of a public verification request.
type VerifyResult struct {
	Status      string              `json:"status"`
	ChainID     string              `json:"chain_id,omitempty"`
	Certificate *models.Certificate `json:"certificate,omitempty"`
	Source      string              `json:"source,omitempty"`
	OnChain     *chain.Certificate  `json:"on_chain,omitempty"`
}

type CertificateService struct {
	certRepo    CertificateStore
	profileRepo *repositories.ProfileRepo
	auditRepo   AuditSink
	resolver    *resolve.Resolver
	registry    Registry
	uploader    MetadataUploader
	publisher   events.Publisher
	cfg         *config.Config
	log         *zap.Logger
}

func NewCertificateService(
	certRepo CertificateStore,
	profileRepo *repositories.ProfileRepo,
	auditRepo AuditSink,
	resolver *resolve.Resolver,
	registry Registry,
	uploader MetadataUploader,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *CertificateService {
	return &CertificateService{
		certRepo:    certRepo,
		profileRepo: profileRepo,
		auditRepo:   auditRepo,
		resolver:    resolver,
		registry:    registry,
		uploader:    uploader,
		publisher:   publisher,
		cfg:         cfg,
		log:         log,
	}
}

// Create records a new certificate in pending state. Only issuer profiles may
// create; the share token is minted here and never changes.
func (s *CertificateService) Create(ctx context.Context, issuerID uuid.UUID, title, description, recipientAddress string) (*models.Certificate, error) {
	profile, err := s.profileRepo.GetByID(ctx, issuerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to load issuer profile: %w", err)
	}
	if !profile.IsIssuer {
		return nil, ErrNotIssuer
	}
	if !common.IsHexAddress(recipientAddress) {
		return nil, ErrInvalidRecipient
	}
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title is required")
	}

	cert, err := s.certRepo.Create(ctx, title, description, issuerID, recipientAddress, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &issuerID,
		ActorType:   "user",
		Action:      "certificate_created",
		EntityType:  "certificate",
		EntityID:    &cert.ID,
		Meta:        map[string]any{"title": title, "recipient": cert.RecipientAddress},
	})
	_ = s.publisher.Publish(ctx, events.StreamCertificates, events.Event{
		Type: events.EventCertificateCreated,
		Payload: map[string]any{
			"certificate_id": cert.ID.String(),
			"issuer_id":      issuerID.String(),
			"recipient":      cert.RecipientAddress,
		},
	})

	s.log.Info("certificate created",
		zap.String("certificate_id", cert.ID.String()),
		zap.String("issuer_id", issuerID.String()),
	)
	return cert, nil
}

// Anchor registers a pending certificate on-chain. The anchor key is written
// before the transaction is submitted, so a crash in between leaves a record
// the reconciliation worker can finish. Callers may supply their own key via
// the Idempotency-Key header: replaying a completed request returns the
// anchored certificate, while reusing the key for a different certificate is
// rejected.
func (s *CertificateService) Anchor(ctx context.Context, issuerID uuid.UUID, certID uuid.UUID, idemKey string) (*models.Certificate, error) {
	cert, err := s.getOwned(ctx, issuerID, certID)
	if err != nil {
		return nil, err
	}
	if idemKey != "" {
		prev, err := s.certRepo.GetByAnchorKey(ctx, idemKey)
		switch {
		case err == nil && prev.ID != cert.ID:
			return nil, ErrAnchorKeyReused
		case err == nil && prev.BlockchainCertID != nil:
			// Same request replayed after the anchor completed.
			return prev, nil
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return nil, fmt.Errorf("failed to check anchor key: %w", err)
		}
	}
	if cert.BlockchainCertID != nil {
		return nil, ErrAlreadyAnchored
	}
	if cert.Status != models.CertStatusPending {
		return nil, ErrInvalidTransition
	}
	if s.registry == nil {
		return nil, ErrChainUnavailable
	}

	if cert.AnchorKey == nil {
		key := idemKey
		if key == "" {
			key = uuid.NewString()
		}
		if err := s.certRepo.SetAnchorKey(ctx, cert.ID, key); err != nil {
			return nil, fmt.Errorf("failed to record anchor key: %w", err)
		}
		cert.AnchorKey = &key
	}

	contentHash := ""
	if s.uploader != nil && cert.MetadataURI == nil {
		issuer, err := s.profileRepo.GetByID(ctx, issuerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load issuer profile: %w", err)
		}
		uri, hash, err := s.uploader.UploadMetadata(ctx, CertificateMetadata{
			Title:       cert.Title,
			Description: cert.Description,
			Issuer:      issuer.Name,
			Recipient:   cert.RecipientAddress,
			IssuedAt:    cert.CreatedAt.UTC().Format("2006-01-02"),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to upload metadata: %w", err)
		}
		if err := s.certRepo.SetMetadataURI(ctx, cert.ID, uri); err != nil {
			return nil, fmt.Errorf("failed to record metadata uri: %w", err)
		}
		cert.MetadataURI = &uri
		contentHash = hash
	} else if cert.MetadataURI != nil {
		contentHash = contentHashFromURI(*cert.MetadataURI)
	}

	chainID, err := s.registry.IssueCertificate(ctx, cert.Title, common.HexToAddress(cert.RecipientAddress), contentHash)
	if err != nil {
		return nil, fmt.Errorf("on-chain issuance failed: %w", err)
	}

	wrote, err := s.certRepo.SetChainID(ctx, cert.ID, chainID.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to link registry id: %w", err)
	}
	if !wrote {
		s.log.Warn("registry id already linked, keeping existing linkage",
			zap.String("certificate_id", cert.ID.String()))
	}

	cert, err = s.certRepo.GetByID(ctx, cert.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload certificate: %w", err)
	}

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &issuerID,
		ActorType:   "user",
		Action:      "certificate_anchored",
		EntityType:  "certificate",
		EntityID:    &cert.ID,
		Meta:        map[string]any{"chain_id": chainID.Hex()},
	})
	_ = s.publisher.Publish(ctx, events.StreamCertificates, events.Event{
		Type: events.EventCertificateAnchored,
		Payload: map[string]any{
			"certificate_id": cert.ID.String(),
			"chain_id":       chainID.Hex(),
		},
	})

	s.log.Info("certificate anchored",
		zap.String("certificate_id", cert.ID.String()),
		zap.String("chain_id", chainID.Hex()),
	)
	return cert, nil
}

// Revoke marks the certificate revoked, on-chain first when it is anchored.
func (s *CertificateService) Revoke(ctx context.Context, issuerID uuid.UUID, certID uuid.UUID) (*models.Certificate, error) {
	cert, err := s.getOwned(ctx, issuerID, certID)
	if err != nil {
		return nil, err
	}
	if !models.IsValidTransition(cert.Status, models.CertStatusRevoked) {
		return nil, ErrInvalidTransition
	}

	if cert.BlockchainCertID != nil {
		if s.registry == nil {
			return nil, ErrChainUnavailable
		}
		if err := s.registry.RevokeCertificate(ctx, *cert.BlockchainCertID); err != nil {
			return nil, fmt.Errorf("on-chain revocation failed: %w", err)
		}
	}

	if err := s.certRepo.UpdateStatus(ctx, cert.ID, models.CertStatusRevoked); err != nil {
		return nil, fmt.Errorf("failed to update status: %w", err)
	}
	cert.Status = models.CertStatusRevoked

	_ = s.auditRepo.Log(ctx, models.AuditLog{
		ActorUserID: &issuerID,
		ActorType:   "user",
		Action:      "certificate_revoked",
		EntityType:  "certificate",
		EntityID:    &cert.ID,
	})
	_ = s.publisher.Publish(ctx, events.StreamCertificates, events.Event{
		Type:    events.EventCertificateRevoked,
		Payload: map[string]any{"certificate_id": cert.ID.String()},
	})

	s.log.Info("certificate revoked", zap.String("certificate_id", cert.ID.String()))
	return cert, nil
}

func (s *CertificateService) GetByID(ctx context.Context, id uuid.UUID) (*models.Certificate, error) {
	cert, err := s.certRepo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCertNotFound
	}
	return cert, err
}

func (s *CertificateService) ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]models.Certificate, error) {
	return s.certRepo.ListByIssuer(ctx, issuerID)
}

func (s *CertificateService) ListByRecipient(ctx context.Context, recipientAddress string) ([]models.Certificate, error) {
	if !common.IsHexAddress(recipientAddress) {
		return nil, ErrInvalidRecipient
	}
	return s.certRepo.ListByRecipient(ctx, recipientAddress)
}

// GetShared serves the public share-link view, issuer display data included.
func (s *CertificateService) GetShared(ctx context.Context, shareToken string) (*models.CertificateWithIssuer, error) {
	cert, err := s.certRepo.GetByShareTokenWithIssuer(ctx, shareToken)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCertNotFound
	}
	return cert, err
}

// ShareURL renders the public verification link for a certificate.
func (s *CertificateService) ShareURL(cert *models.Certificate) string {
	return s.cfg.PublicBaseURL + "/verify/" + cert.ShareToken
}

// VerifyByIdentifier resolves any supported identifier and checks the
// certificate against the on-chain registry. Resolution failure is a
// not-found outcome, not an error; a chain that cannot be reached is an
// error, so callers never mistake an outage for an invalid certificate.
func (s *CertificateService) VerifyByIdentifier(ctx context.Context, identifier string) (*VerifyResult, error) {
	res, err := s.resolver.Resolve(ctx, identifier)
	if err != nil {
		if errors.Is(err, resolve.ErrUnresolved) {
			return &VerifyResult{Status: VerifyStatusNotFound}, nil
		}
		return nil, fmt.Errorf("resolution failed: %w", err)
	}
	return s.verifyResolved(ctx, res)
}

// VerifyByRecipientTitle is the secondary verification path for a known
// recipient wallet and certificate title.
func (s *CertificateService) VerifyByRecipientTitle(ctx context.Context, recipientAddress, title string) (*VerifyResult, error) {
	res, err := s.resolver.ResolveByRecipientTitle(ctx, recipientAddress, title)
	if err != nil {
		if errors.Is(err, resolve.ErrUnresolved) {
			return &VerifyResult{Status: VerifyStatusNotFound}, nil
		}
		return nil, fmt.Errorf("resolution failed: %w", err)
	}
	return s.verifyResolved(ctx, res)
}

func (s *CertificateService) verifyResolved(ctx context.Context, res *resolve.Resolution) (*VerifyResult, error) {
	result := &VerifyResult{
		ChainID:     res.ChainID,
		Certificate: res.Certificate,
		Source:      res.Source,
	}

	if res.ChainID == "" {
		// Known locally, never anchored.
		if res.Certificate != nil && res.Certificate.Status == models.CertStatusRevoked {
			result.Status = VerifyStatusRevoked
		} else if res.Certificate != nil {
			result.Status = VerifyStatusPending
		} else {
			result.Status = VerifyStatusNotFound
		}
		return result, nil
	}

	if s.registry == nil {
		return nil, ErrVerifyUnavailable
	}

	status, err := s.registry.VerifyCertificate(ctx, res.ChainID)
	if err != nil {
		s.log.Error("chain verification failed",
			zap.String("chain_id", res.ChainID), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrVerifyUnavailable, err)
	}

	switch status {
	case chain.VerifyValid:
		result.Status = VerifyStatusValid
	case chain.VerifyRevoked:
		result.Status = VerifyStatusRevoked
	case chain.VerifyNotFound:
		result.Status = VerifyStatusNotFound
	default:
		result.Status = VerifyStatusUnknown
	}

	if status == chain.VerifyValid {
		if detail, err := s.registry.GetCertificateDetails(ctx, res.ChainID); err == nil && detail != nil {
			result.OnChain = detail
		}
	}
	return result, nil
}

func (s *CertificateService) getOwned(ctx context.Context, issuerID, certID uuid.UUID) (*models.Certificate, error) {
	cert, err := s.certRepo.GetByID(ctx, certID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCertNotFound
		}
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	if cert.IssuerID != issuerID {
		return nil, ErrNotOwner
	}
	return cert, nil
}

// contentHashFromURI strips the scheme/gateway prefix off a metadata URI,
// leaving the bare content hash the contract stores.
func contentHashFromURI(uri string) string {
	uri = strings.TrimPrefix(uri, "ipfs://")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		uri = uri[i+1:]
	}
	return uri
}
