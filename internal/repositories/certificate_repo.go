package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/certifychain/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CertificateRepo struct {
	pool *pgxpool.Pool
}

func NewCertificateRepo(pool *pgxpool.Pool) *CertificateRepo {
	return &CertificateRepo{pool: pool}
}

const certColumns = `id, title, description, issuer_id, recipient_address, status,
	share_token, metadata_uri, blockchain_cert_id, anchor_key, created_at, updated_at`

func scanCertificate(row pgx.Row) (*models.Certificate, error) {
	var c models.Certificate
	err := row.Scan(
		&c.ID, &c.Title, &c.Description, &c.IssuerID, &c.RecipientAddress, &c.Status,
		&c.ShareToken, &c.MetadataURI, &c.BlockchainCertID, &c.AnchorKey, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCertificates(rows pgx.Rows) ([]models.Certificate, error) {
	defer rows.Close()
	var certs []models.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		certs = append(certs, *c)
	}
	return certs, rows.Err()
}

func (r *CertificateRepo) Create(ctx context.Context, title, description string, issuerID uuid.UUID, recipientAddress, shareToken string) (*models.Certificate, error) {
	return scanCertificate(r.pool.QueryRow(ctx, `
		INSERT INTO certificates (title, description, issuer_id, recipient_address, status, share_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+certColumns,
		title, description, issuerID, strings.ToLower(recipientAddress), models.CertStatusPending, shareToken))
}

func (r *CertificateRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Certificate, error) {
	return scanCertificate(r.pool.QueryRow(ctx, `
		SELECT `+certColumns+` FROM certificates WHERE id = $1`, id))
}

func (r *CertificateRepo) GetByShareToken(ctx context.Context, token string) (*models.Certificate, error) {
	return scanCertificate(r.pool.QueryRow(ctx, `
		SELECT `+certColumns+` FROM certificates WHERE share_token = $1`, token))
}

// GetByShareTokenWithIssuer loads the public share-link view together with
// the issuer's display name and wallet, saving a second lookup.
func (r *CertificateRepo) GetByShareTokenWithIssuer(ctx context.Context, token string) (*models.CertificateWithIssuer, error) {
	var c models.CertificateWithIssuer
	err := r.pool.QueryRow(ctx, `
		SELECT c.id, c.title, c.description, c.issuer_id, c.recipient_address, c.status,
			c.share_token, c.metadata_uri, c.blockchain_cert_id, c.anchor_key, c.created_at, c.updated_at,
			p.name, p.wallet_address
		FROM certificates c
		JOIN profiles p ON p.id = c.issuer_id
		WHERE c.share_token = $1`, token).Scan(
		&c.ID, &c.Title, &c.Description, &c.IssuerID, &c.RecipientAddress, &c.Status,
		&c.ShareToken, &c.MetadataURI, &c.BlockchainCertID, &c.AnchorKey, &c.CreatedAt, &c.UpdatedAt,
		&c.IssuerName, &c.IssuerWallet,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CertificateRepo) GetByChainID(ctx context.Context, chainID string) (*models.Certificate, error) {
	return scanCertificate(r.pool.QueryRow(ctx, `
		SELECT `+certColumns+` FROM certificates WHERE blockchain_cert_id = $1`,
		strings.ToLower(chainID)))
}

func (r *CertificateRepo) GetByMetadataURI(ctx context.Context, uri string) (*models.Certificate, error) {
	return scanCertificate(r.pool.QueryRow(ctx, `
		SELECT `+certColumns+` FROM certificates WHERE metadata_uri = $1`, uri))
}

func (r *CertificateRepo) GetByAnchorKey(ctx context.Context, anchorKey string) (*models.Certificate, error) {
	return scanCertificate(r.pool.QueryRow(ctx, `
		SELECT `+certColumns+` FROM certificates WHERE anchor_key = $1`, anchorKey))
}

// GetLatestByRecipient returns the newest certificate for a recipient wallet,
// used when a bare address is presented for verification.
func (r *CertificateRepo) GetLatestByRecipient(ctx context.Context, recipientAddress string) (*models.Certificate, error) {
	return scanCertificate(r.pool.QueryRow(ctx, `
		SELECT `+certColumns+` FROM certificates
		WHERE recipient_address = $1
		ORDER BY created_at DESC
		LIMIT 1`,
		strings.ToLower(recipientAddress)))
}

// GetLatestByRecipientAndTitle is the secondary match used when no direct
// linkage exists: newest first, so a re-issued certificate wins.
func (r *CertificateRepo) GetLatestByRecipientAndTitle(ctx context.Context, recipientAddress, title string) (*models.Certificate, error) {
	return scanCertificate(r.pool.QueryRow(ctx, `
		SELECT `+certColumns+` FROM certificates
		WHERE recipient_address = $1 AND title = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		strings.ToLower(recipientAddress), title))
}

func (r *CertificateRepo) ListByIssuer(ctx context.Context, issuerID uuid.UUID) ([]models.Certificate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+certColumns+` FROM certificates
		WHERE issuer_id = $1
		ORDER BY created_at DESC`, issuerID)
	if err != nil {
		return nil, err
	}
	return collectCertificates(rows)
}

func (r *CertificateRepo) ListByRecipient(ctx context.Context, recipientAddress string) ([]models.Certificate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+certColumns+` FROM certificates
		WHERE recipient_address = $1
		ORDER BY created_at DESC`, strings.ToLower(recipientAddress))
	if err != nil {
		return nil, err
	}
	return collectCertificates(rows)
}

// ListPendingOlderThan returns pending certificates whose anchoring was
// started before the cutoff. The reconciliation worker resolves whether the
// transaction actually landed.
func (r *CertificateRepo) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Certificate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+certColumns+` FROM certificates
		WHERE status = $1 AND anchor_key IS NOT NULL AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`, models.CertStatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return collectCertificates(rows)
}

func (r *CertificateRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE certificates SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}

// SetAnchorKey records the idempotency key before the chain transaction is
// submitted, so a crash between submit and confirm is recoverable.
func (r *CertificateRepo) SetAnchorKey(ctx context.Context, id uuid.UUID, anchorKey string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE certificates SET anchor_key = $1, updated_at = now() WHERE id = $2`, anchorKey, id)
	return err
}

func (r *CertificateRepo) SetMetadataURI(ctx context.Context, id uuid.UUID, uri string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE certificates SET metadata_uri = $1, updated_at = now() WHERE id = $2`, uri, id)
	return err
}

// SetChainID links the on-chain registry ID and flips the row to issued, but
// only if no registry ID was linked yet. Reports whether this call performed
// the write, so concurrent backfills stay at-most-once.
func (r *CertificateRepo) SetChainID(ctx context.Context, id uuid.UUID, chainID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE certificates
		SET blockchain_cert_id = $1, status = $2, updated_at = now()
		WHERE id = $3 AND blockchain_cert_id IS NULL`,
		strings.ToLower(chainID), models.CertStatusIssued, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
