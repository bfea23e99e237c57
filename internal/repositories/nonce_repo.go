package repositories

import (
	"context"
	"strings"
	"time"

	"github.com/certifychain/backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NonceRepo struct {
	pool *pgxpool.Pool
}

func NewNonceRepo(pool *pgxpool.Pool) *NonceRepo {
	return &NonceRepo{pool: pool}
}

func (r *NonceRepo) Create(ctx context.Context, nonce, walletAddress string, ttl time.Duration) (*models.LoginNonce, error) {
	var n models.LoginNonce
	err := r.pool.QueryRow(ctx, `
		INSERT INTO login_nonces (nonce, wallet_address, expires_at)
		VALUES ($1, $2, now() + $3)
		RETURNING id, nonce, wallet_address, created_at, expires_at, used`,
		nonce, strings.ToLower(walletAddress), ttl).Scan(
		&n.ID, &n.Nonce, &n.WalletAddress, &n.CreatedAt, &n.ExpiresAt, &n.Used,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Consume marks a nonce used and returns it, but only if it belongs to the
// wallet, is unused and has not expired. pgx.ErrNoRows means the challenge is
// not redeemable.
func (r *NonceRepo) Consume(ctx context.Context, nonce, walletAddress string) (*models.LoginNonce, error) {
	var n models.LoginNonce
	err := r.pool.QueryRow(ctx, `
		UPDATE login_nonces
		SET used = true
		WHERE nonce = $1 AND wallet_address = $2 AND used = false AND expires_at > now()
		RETURNING id, nonce, wallet_address, created_at, expires_at, used`,
		nonce, strings.ToLower(walletAddress)).Scan(
		&n.ID, &n.Nonce, &n.WalletAddress, &n.CreatedAt, &n.ExpiresAt, &n.Used,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NonceRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_nonces WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
