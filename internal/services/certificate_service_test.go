package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/certifychain/backend/internal/chain"
	"github.com/certifychain/backend/internal/events"
	"github.com/certifychain/backend/internal/models"
	"github.com/certifychain/backend/internal/resolve"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type stubStore struct {
	byToken map[string]*models.Certificate
}

func (s *stubStore) GetByShareToken(ctx context.Context, token string) (*models.Certificate, error) {
	if c, ok := s.byToken[token]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubStore) GetByChainID(ctx context.Context, chainID string) (*models.Certificate, error) {
	return nil, pgx.ErrNoRows
}

func (s *stubStore) GetByMetadataURI(ctx context.Context, uri string) (*models.Certificate, error) {
	return nil, pgx.ErrNoRows
}

func (s *stubStore) GetLatestByRecipient(ctx context.Context, recipient string) (*models.Certificate, error) {
	return nil, pgx.ErrNoRows
}

func (s *stubStore) GetLatestByRecipientAndTitle(ctx context.Context, recipient, title string) (*models.Certificate, error) {
	return nil, pgx.ErrNoRows
}

func (s *stubStore) SetChainID(ctx context.Context, id uuid.UUID, chainID string) (bool, error) {
	return false, nil
}

type stubRegistry struct {
	status     chain.VerifyStatus
	verifyErr  error
	detail     *chain.Certificate
	issueHash  common.Hash
	issueErr   error
	issueCalls int
}

func (r *stubRegistry) IssueCertificate(ctx context.Context, name string, recipient common.Address, ipfsHash string) (common.Hash, error) {
	r.issueCalls++
	return r.issueHash, r.issueErr
}

func (r *stubRegistry) RevokeCertificate(ctx context.Context, certID string) error {
	return errors.New("not implemented")
}

func (r *stubRegistry) VerifyCertificate(ctx context.Context, certID string) (chain.VerifyStatus, error) {
	return r.status, r.verifyErr
}

func (r *stubRegistry) GetCertificateDetails(ctx context.Context, certID string) (*chain.Certificate, error) {
	return r.detail, nil
}

func verifyService(store *stubStore, registry Registry) *CertificateService {
	log := zap.NewNop()
	return &CertificateService{
		resolver: resolve.NewResolver(store, nil, log),
		registry: registry,
		log:      log,
	}
}

func TestVerifyByIdentifierChainStatuses(t *testing.T) {
	chainID := "0x" + strings.Repeat("ab", 32)

	tests := []struct {
		name     string
		status   chain.VerifyStatus
		expected string
	}{
		{"valid", chain.VerifyValid, VerifyStatusValid},
		{"revoked", chain.VerifyRevoked, VerifyStatusRevoked},
		{"not found", chain.VerifyNotFound, VerifyStatusNotFound},
		{"unknown", chain.VerifyUnknown, VerifyStatusUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := verifyService(&stubStore{}, &stubRegistry{status: tt.status})

			result, err := svc.VerifyByIdentifier(context.Background(), chainID)
			if err != nil {
				t.Fatalf("VerifyByIdentifier() error = %v", err)
			}
			if result.Status != tt.expected {
				t.Errorf("status = %s, want %s", result.Status, tt.expected)
			}
		})
	}
}

func TestVerifyByIdentifierUnresolved(t *testing.T) {
	svc := verifyService(&stubStore{}, &stubRegistry{})

	result, err := svc.VerifyByIdentifier(context.Background(), "nothing-matches")
	if err != nil {
		t.Fatalf("VerifyByIdentifier() error = %v", err)
	}
	if result.Status != VerifyStatusNotFound {
		t.Errorf("status = %s, want not_found", result.Status)
	}
}

func TestVerifyByIdentifierPendingRecord(t *testing.T) {
	cert := &models.Certificate{
		ID:         uuid.New(),
		Title:      "Go Cert",
		Status:     models.CertStatusPending,
		ShareToken: uuid.NewString(),
	}
	svc := verifyService(&stubStore{byToken: map[string]*models.Certificate{cert.ShareToken: cert}}, &stubRegistry{})

	result, err := svc.VerifyByIdentifier(context.Background(), cert.ShareToken)
	if err != nil {
		t.Fatalf("VerifyByIdentifier() error = %v", err)
	}
	if result.Status != VerifyStatusPending {
		t.Errorf("status = %s, want pending for unanchored record", result.Status)
	}
}

func TestVerifyByIdentifierLocallyRevoked(t *testing.T) {
	cert := &models.Certificate{
		ID:         uuid.New(),
		Title:      "Go Cert",
		Status:     models.CertStatusRevoked,
		ShareToken: uuid.NewString(),
	}
	svc := verifyService(&stubStore{byToken: map[string]*models.Certificate{cert.ShareToken: cert}}, &stubRegistry{})

	result, err := svc.VerifyByIdentifier(context.Background(), cert.ShareToken)
	if err != nil {
		t.Fatalf("VerifyByIdentifier() error = %v", err)
	}
	if result.Status != VerifyStatusRevoked {
		t.Errorf("status = %s, want revoked", result.Status)
	}
}

func TestVerifyByIdentifierChainOutageIsError(t *testing.T) {
	chainID := "0x" + strings.Repeat("ab", 32)
	svc := verifyService(&stubStore{}, &stubRegistry{verifyErr: errors.New("rpc down")})

	if _, err := svc.VerifyByIdentifier(context.Background(), chainID); !errors.Is(err, ErrVerifyUnavailable) {
		t.Fatalf("VerifyByIdentifier() error = %v, want ErrVerifyUnavailable", err)
	}
}

func TestVerifyByIdentifierAttachesOnChainDetail(t *testing.T) {
	chainID := "0x" + strings.Repeat("ab", 32)
	detail := &chain.Certificate{Name: "Go Cert", IsValid: true}
	svc := verifyService(&stubStore{}, &stubRegistry{status: chain.VerifyValid, detail: detail})

	result, err := svc.VerifyByIdentifier(context.Background(), chainID)
	if err != nil {
		t.Fatalf("VerifyByIdentifier() error = %v", err)
	}
	if result.OnChain == nil || result.OnChain.Name != "Go Cert" {
		t.Errorf("on-chain detail missing: %+v", result)
	}
}

func TestContentHashFromURI(t *testing.T) {
	tests := []struct {
		uri      string
		expected string
	}{
		{"ipfs://QmHash", "QmHash"},
		{"https://ipfs.io/ipfs/QmHash", "QmHash"},
		{"QmHash", "QmHash"},
	}
	for _, tt := range tests {
		if got := contentHashFromURI(tt.uri); got != tt.expected {
			t.Errorf("contentHashFromURI(%q) = %q, want %q", tt.uri, got, tt.expected)
		}
	}
}

type stubCertStore struct {
	certs        map[uuid.UUID]*models.Certificate
	byAnchorKey  map[string]*models.Certificate
	byShareToken map[string]*models.CertificateWithIssuer
	anchorKeys   []string
	chainIDs     []string
}

func (s *stubCertStore) Create(ctx context.Context, title, description string, issuerID uuid.UUID, recipientAddress, shareToken string) (*models.Certificate, error) {
	return nil, errors.New("not implemented")
}

func (s *stubCertStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Certificate, error) {
	if c, ok := s.certs[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubCertStore) GetByShareTokenWithIssuer(ctx context.Context, token string) (*models.CertificateWithIssuer, error) {
	if c, ok := s.byShareToken[token]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubCertStore) GetByAnchorKey(ctx context.Context, anchorKey string) (*models.Certificate, error) {
	if c, ok := s.byAnchorKey[anchorKey]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (s *stubCertStore) ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]models.Certificate, error) {
	return nil, nil
}

func (s *stubCertStore) ListByRecipient(ctx context.Context, recipientAddress string) ([]models.Certificate, error) {
	return nil, nil
}

func (s *stubCertStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	if c, ok := s.certs[id]; ok {
		c.Status = status
	}
	return nil
}

func (s *stubCertStore) SetAnchorKey(ctx context.Context, id uuid.UUID, anchorKey string) error {
	s.anchorKeys = append(s.anchorKeys, anchorKey)
	if c, ok := s.certs[id]; ok {
		c.AnchorKey = &anchorKey
	}
	return nil
}

func (s *stubCertStore) SetMetadataURI(ctx context.Context, id uuid.UUID, uri string) error {
	if c, ok := s.certs[id]; ok {
		c.MetadataURI = &uri
	}
	return nil
}

func (s *stubCertStore) SetChainID(ctx context.Context, id uuid.UUID, chainID string) (bool, error) {
	s.chainIDs = append(s.chainIDs, chainID)
	c, ok := s.certs[id]
	if !ok || c.BlockchainCertID != nil {
		return false, nil
	}
	c.BlockchainCertID = &chainID
	c.Status = models.CertStatusIssued
	return true, nil
}

type nopAudit struct{}

func (nopAudit) Log(ctx context.Context, entry models.AuditLog) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, stream string, event events.Event) error {
	return nil
}

func anchorService(store *stubCertStore, registry Registry) *CertificateService {
	return &CertificateService{
		certRepo:  store,
		auditRepo: nopAudit{},
		registry:  registry,
		publisher: nopPublisher{},
		log:       zap.NewNop(),
	}
}

func pendingCert(issuerID uuid.UUID) *models.Certificate {
	uri := "ipfs://QmHash"
	return &models.Certificate{
		ID:               uuid.New(),
		Title:            "Go Cert",
		IssuerID:         issuerID,
		RecipientAddress: "0x2222222222222222222222222222222222222222",
		Status:           models.CertStatusPending,
		ShareToken:       uuid.NewString(),
		MetadataURI:      &uri,
	}
}

func TestAnchorRecordsClientKey(t *testing.T) {
	issuerID := uuid.New()
	cert := pendingCert(issuerID)
	store := &stubCertStore{certs: map[uuid.UUID]*models.Certificate{cert.ID: cert}}
	chainID := common.HexToHash("0x" + strings.Repeat("ab", 32))
	svc := anchorService(store, &stubRegistry{issueHash: chainID})

	got, err := svc.Anchor(context.Background(), issuerID, cert.ID, "client-key-1")
	if err != nil {
		t.Fatalf("Anchor() error = %v", err)
	}
	if len(store.anchorKeys) != 1 || store.anchorKeys[0] != "client-key-1" {
		t.Errorf("anchor keys recorded = %v, want the client key", store.anchorKeys)
	}
	if got.BlockchainCertID == nil || *got.BlockchainCertID != chainID.Hex() {
		t.Errorf("certificate not linked: %+v", got)
	}
}

func TestAnchorReplaySameKeyReturnsAnchored(t *testing.T) {
	issuerID := uuid.New()
	cert := pendingCert(issuerID)
	key := "client-key-1"
	linked := "0x" + strings.Repeat("ab", 32)
	cert.AnchorKey = &key
	cert.BlockchainCertID = &linked
	cert.Status = models.CertStatusIssued
	store := &stubCertStore{
		certs:       map[uuid.UUID]*models.Certificate{cert.ID: cert},
		byAnchorKey: map[string]*models.Certificate{key: cert},
	}
	// nil registry: a replay must complete without touching the chain
	svc := anchorService(store, nil)

	got, err := svc.Anchor(context.Background(), issuerID, cert.ID, key)
	if err != nil {
		t.Fatalf("Anchor() replay error = %v", err)
	}
	if got.ID != cert.ID || got.BlockchainCertID == nil || *got.BlockchainCertID != linked {
		t.Errorf("Anchor() replay = %+v, want the anchored certificate", got)
	}
	if len(store.anchorKeys) != 0 {
		t.Errorf("SetAnchorKey called %d times on replay, want 0", len(store.anchorKeys))
	}
}

func TestAnchorRejectsReusedKey(t *testing.T) {
	issuerID := uuid.New()
	cert := pendingCert(issuerID)
	other := pendingCert(issuerID)
	store := &stubCertStore{
		certs:       map[uuid.UUID]*models.Certificate{cert.ID: cert, other.ID: other},
		byAnchorKey: map[string]*models.Certificate{"taken": other},
	}
	svc := anchorService(store, &stubRegistry{})

	if _, err := svc.Anchor(context.Background(), issuerID, cert.ID, "taken"); !errors.Is(err, ErrAnchorKeyReused) {
		t.Fatalf("Anchor() error = %v, want ErrAnchorKeyReused", err)
	}
}

func TestGetSharedIncludesIssuer(t *testing.T) {
	issuerName := "Acme Corp"
	cert := &models.CertificateWithIssuer{
		Certificate: models.Certificate{ID: uuid.New(), Title: "Go Cert", ShareToken: "tok"},
		IssuerName:  &issuerName,
	}
	store := &stubCertStore{byShareToken: map[string]*models.CertificateWithIssuer{"tok": cert}}
	svc := anchorService(store, nil)

	got, err := svc.GetShared(context.Background(), "tok")
	if err != nil {
		t.Fatalf("GetShared() error = %v", err)
	}
	if got.IssuerName == nil || *got.IssuerName != issuerName {
		t.Errorf("GetShared() issuer name = %v, want %q", got.IssuerName, issuerName)
	}

	if _, err := svc.GetShared(context.Background(), "missing"); !errors.Is(err, ErrCertNotFound) {
		t.Errorf("GetShared() error = %v, want ErrCertNotFound", err)
	}
}
