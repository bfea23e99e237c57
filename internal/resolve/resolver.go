package resolve

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/certifychain/backend/internal/chain"
	"github.com/certifychain/backend/internal/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrUnresolved means no resolution step produced a registry ID or a local
// record for the identifier.
var ErrUnresolved = errors.New("identifier did not resolve to a certificate")

// CertificateStore is the slice of the certificate repository the resolver
// needs.
type CertificateStore interface {
	GetByShareToken(ctx context.Context, token string) (*models.Certificate, error)
	GetByChainID(ctx context.Context, chainID string) (*models.Certificate, error)
	GetByMetadataURI(ctx context.Context, uri string) (*models.Certificate, error)
	GetLatestByRecipient(ctx context.Context, recipientAddress string) (*models.Certificate, error)
	GetLatestByRecipientAndTitle(ctx context.Context, recipientAddress, title string) (*models.Certificate, error)
	SetChainID(ctx context.Context, id uuid.UUID, chainID string) (bool, error)
}

// ChainReader is the read-only slice of the registry client used for
// backfilling missing registry IDs.
type ChainReader interface {
	GetCertificatesByRecipient(ctx context.Context, recipient common.Address) ([]chain.CertificateSummary, error)
	GetCertificateDetails(ctx context.Context, certID string) (*chain.Certificate, error)
}

// Resolution is the outcome of resolving a user-supplied identifier. ChainID
// is empty when the certificate is known locally but was never anchored.
type Resolution struct {
	ChainID     string              `json:"chain_id,omitempty"`
	Certificate *models.Certificate `json:"certificate,omitempty"`
	Source      string              `json:"source"`
}

// Resolution sources, in the order the steps run.
const (
	SourceChainID        = "chain_id"
	SourceShareToken     = "share_token"
	SourceRecipient      = "recipient_address"
	SourceMetadataURI    = "metadata_uri"
	SourceRecipientTitle = "recipient_title"
)

type Resolver struct {
	store CertificateStore
	chain ChainReader
	log   *zap.Logger
}

func NewResolver(store CertificateStore, chainReader ChainReader, log *zap.Logger) *Resolver {
	return &Resolver{store: store, chain: chainReader, log: log}
}

// Resolve turns a user-supplied identifier into a registry ID and, when one
// exists, the matching local record. Steps run in a fixed order and the first
// hit wins: raw registry ID, share link or token, recipient address, then
// metadata URI.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*Resolution, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, ErrUnresolved
	}

	if chain.IsCertID(identifier) {
		id, err := chain.NormalizeCertID(identifier)
		if err != nil {
			return nil, err
		}
		res := &Resolution{ChainID: id.Hex(), Source: SourceChainID}
		cert, err := r.store.GetByChainID(ctx, id.Hex())
		switch {
		case err == nil:
			res.Certificate = cert
		case errors.Is(err, pgx.ErrNoRows):
			res.Certificate = r.adoptChainID(ctx, id)
		default:
			return nil, err
		}
		return res, nil
	}

	if token := extractShareToken(identifier); token != "" {
		cert, err := r.store.GetByShareToken(ctx, token)
		if err == nil {
			return r.fromRecord(ctx, cert, SourceShareToken), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	if common.IsHexAddress(identifier) {
		cert, err := r.store.GetLatestByRecipient(ctx, identifier)
		if err == nil {
			return r.fromRecord(ctx, cert, SourceRecipient), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	if looksLikeURI(identifier) {
		cert, err := r.store.GetByMetadataURI(ctx, identifier)
		if err == nil {
			return r.fromRecord(ctx, cert, SourceMetadataURI), nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}

	return nil, ErrUnresolved
}

// ResolveByRecipientTitle is the secondary match used when only the recipient
// wallet and certificate title are known. The newest matching record wins.
func (r *Resolver) ResolveByRecipientTitle(ctx context.Context, recipientAddress, title string) (*Resolution, error) {
	if !common.IsHexAddress(recipientAddress) || title == "" {
		return nil, ErrUnresolved
	}
	cert, err := r.store.GetLatestByRecipientAndTitle(ctx, recipientAddress, title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnresolved
		}
		return nil, err
	}
	return r.fromRecord(ctx, cert, SourceRecipientTitle), nil
}

// fromRecord builds the resolution for a local record, backfilling a missing
// registry ID from chain events when possible.
func (r *Resolver) fromRecord(ctx context.Context, cert *models.Certificate, source string) *Resolution {
	res := &Resolution{Certificate: cert, Source: source}
	if cert.BlockchainCertID != nil {
		res.ChainID = *cert.BlockchainCertID
		return res
	}

	if chainID, ok := r.backfillChainID(ctx, cert); ok {
		res.ChainID = chainID
		id := chainID
		cert.BlockchainCertID = &id
		cert.Status = models.CertStatusIssued
	}
	return res
}

// adoptChainID runs the reverse reconciliation: a registry ID with no linked
// row is looked up on-chain, and its (recipient, name) picks the newest
// unlinked local record. The write-back shares the conditional NULL guard
// with backfillChainID, so concurrent resolutions stay at-most-once.
func (r *Resolver) adoptChainID(ctx context.Context, id common.Hash) *models.Certificate {
	if r.chain == nil {
		return nil
	}

	detail, err := r.chain.GetCertificateDetails(ctx, id.Hex())
	if err != nil {
		r.log.Warn("chain lookup for adoption failed",
			zap.String("chain_id", id.Hex()), zap.Error(err))
		return nil
	}
	if detail == nil {
		return nil
	}

	cert, err := r.store.GetLatestByRecipientAndTitle(ctx, detail.Recipient.Hex(), detail.Name)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.log.Warn("adoption match lookup failed",
				zap.String("chain_id", id.Hex()), zap.Error(err))
		}
		return nil
	}
	if cert.BlockchainCertID != nil {
		// The newest match is already linked, necessarily to a different ID.
		return nil
	}

	chainID := id.Hex()
	wrote, err := r.store.SetChainID(ctx, cert.ID, chainID)
	if err != nil {
		r.log.Warn("adoption write failed",
			zap.String("certificate_id", cert.ID.String()), zap.Error(err))
		return nil
	}
	if !wrote {
		fresh, err := r.store.GetByChainID(ctx, chainID)
		if err == nil && fresh.ID == cert.ID {
			return fresh
		}
		return nil
	}

	r.log.Info("linked registry id during resolution",
		zap.String("certificate_id", cert.ID.String()),
		zap.String("chain_id", chainID),
	)
	cert.BlockchainCertID = &chainID
	cert.Status = models.CertStatusIssued
	return cert
}

// backfillChainID scans on-chain issuance events for the record's recipient
// and links the first certificate whose name matches the stored title. The
// write is conditional on the column still being NULL, so concurrent
// backfills of the same record stay at-most-once.
func (r *Resolver) backfillChainID(ctx context.Context, cert *models.Certificate) (string, bool) {
	if r.chain == nil || !common.IsHexAddress(cert.RecipientAddress) {
		return "", false
	}

	summaries, err := r.chain.GetCertificatesByRecipient(ctx, common.HexToAddress(cert.RecipientAddress))
	if err != nil {
		r.log.Warn("chain scan for backfill failed",
			zap.String("certificate_id", cert.ID.String()), zap.Error(err))
		return "", false
	}

	for _, s := range summaries {
		if s.Name != cert.Title {
			continue
		}
		chainID := strings.ToLower(s.CertID.Hex())
		wrote, err := r.store.SetChainID(ctx, cert.ID, chainID)
		if err != nil {
			r.log.Warn("backfill write failed",
				zap.String("certificate_id", cert.ID.String()), zap.Error(err))
			return "", false
		}
		if !wrote {
			// Someone linked it first; re-read their value.
			fresh, err := r.store.GetByChainID(ctx, chainID)
			if err == nil && fresh.ID == cert.ID {
				return chainID, true
			}
			return "", false
		}
		r.log.Info("backfilled registry id",
			zap.String("certificate_id", cert.ID.String()),
			zap.String("chain_id", chainID),
		)
		return chainID, true
	}
	return "", false
}

// extractShareToken pulls a share token out of a bare token or a public
// verify URL of the form {base}/verify/{token}.
func extractShareToken(s string) string {
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		for i, p := range parts {
			if p == "verify" && i+1 < len(parts) {
				return parts[i+1]
			}
		}
		return ""
	}
	if _, err := uuid.Parse(s); err == nil {
		return s
	}
	return ""
}

func looksLikeURI(s string) bool {
	return strings.HasPrefix(s, "ipfs://") ||
		strings.HasPrefix(s, "http://") ||
		strings.HasPrefix(s, "https://")
}
