package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/certifychain/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrWalletTaken means the wallet address is already linked to another profile.
var ErrWalletTaken = errors.New("wallet address already linked to another profile")

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

const profileColumns = `id, name, is_issuer, wallet_address, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.Name, &p.IsIssuer, &p.WalletAddress, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProfileRepo) Create(ctx context.Context, name string, isIssuer bool) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `
		INSERT INTO profiles (name, is_issuer)
		VALUES ($1, $2)
		RETURNING `+profileColumns,
		name, isIssuer))
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

// GetByWallet looks a profile up by its linked wallet. Addresses are stored
// lower-cased, so comparisons are case-insensitive.
func (r *ProfileRepo) GetByWallet(ctx context.Context, walletAddress string) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `
		SELECT `+profileColumns+` FROM profiles WHERE wallet_address = $1`,
		strings.ToLower(walletAddress)))
}

func (r *ProfileRepo) UpdateName(ctx context.Context, id uuid.UUID, name string) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `
		UPDATE profiles SET name = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+profileColumns,
		name, id))
}

func (r *ProfileRepo) SetIssuer(ctx context.Context, id uuid.UUID, isIssuer bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE profiles SET is_issuer = $1, updated_at = now() WHERE id = $2`,
		isIssuer, id)
	return err
}

// LinkWallet attaches a wallet address to a profile. A wallet may be linked
// to at most one profile; re-linking the same wallet to the same profile is a
// no-op.
func (r *ProfileRepo) LinkWallet(ctx context.Context, id uuid.UUID, walletAddress string) (*models.Profile, error) {
	addr := strings.ToLower(walletAddress)

	existing, err := r.GetByWallet(ctx, addr)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if existing != nil && existing.ID != id {
		return nil, ErrWalletTaken
	}

	return scanProfile(r.pool.QueryRow(ctx, `
		UPDATE profiles SET wallet_address = $1, updated_at = now()
		WHERE id = $2
		RETURNING `+profileColumns,
		addr, id))
}

func (r *ProfileRepo) UnlinkWallet(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles SET wallet_address = NULL, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
