package models

import (
	"time"

	"github.com/google/uuid"
)

// Certificate statuses
const (
	CertStatusPending = "pending"
	CertStatusIssued  = "issued"
	CertStatusRevoked = "revoked"
)

// Valid state transitions: from -> []to
var ValidCertTransitions = map[string][]string{
	CertStatusPending: {CertStatusIssued, CertStatusRevoked},
	CertStatusIssued:  {CertStatusRevoked},
	CertStatusRevoked: {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidCertTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

type Certificate struct {
	ID               uuid.UUID `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	IssuerID         uuid.UUID `json:"issuer_id"`
	RecipientAddress string    `json:"recipient_address"` // 0x... (42 chars)
	Status           string    `json:"status"`
	ShareToken       string    `json:"share_token"`
	MetadataURI      *string   `json:"metadata_uri,omitempty"`
	// BlockchainCertID is the 0x-prefixed 32-byte registry ID, set once the
	// certificate is anchored on-chain. Best-effort linkage, not a foreign key.
	BlockchainCertID *string   `json:"blockchain_cert_id,omitempty"`
	AnchorKey        *string   `json:"-"` // idempotency key recorded before submission
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// CertificateWithIssuer embeds Certificate and adds issuer info to avoid N+1 queries.
type CertificateWithIssuer struct {
	Certificate
	IssuerName   *string `json:"issuer_name,omitempty"`
	IssuerWallet *string `json:"issuer_wallet,omitempty"`
}
