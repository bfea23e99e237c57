package models

import (
	"time"

	"github.com/google/uuid"
)

type Profile struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	IsIssuer      bool      `json:"is_issuer"`
	WalletAddress *string   `json:"wallet_address,omitempty"` // 0x..., at most one per profile
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LoginNonce is a one-time challenge signed by the wallet during login.
type LoginNonce struct {
	ID            uuid.UUID `json:"id"`
	Nonce         string    `json:"nonce"`
	WalletAddress string    `json:"-"`
	CreatedAt     time.Time `json:"-"`
	ExpiresAt     time.Time `json:"-"`
	Used          bool      `json:"-"`
}
