package chain

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserRecord mirrors the contract's users(address) mapping entry.
type UserRecord struct {
	Name         string `json:"name"`
	IsHR         bool   `json:"is_hr"`
	IsRegistered bool   `json:"is_registered"`
}

// Certificate mirrors the contract's certificate tuple. Recipient equal to the
// zero address means the entry does not exist (the contract has no explicit
// existence flag).
type Certificate struct {
	Name      string         `json:"name"`
	Issuer    common.Address `json:"issuer"`
	Recipient common.Address `json:"recipient"`
	IpfsHash  string         `json:"ipfs_hash"`
	IssueDate *big.Int       `json:"issue_date"`
	IsValid   bool           `json:"is_valid"`
}

// CertificateSummary is a certificate paired with its derived registry ID.
// FromEventOnly marks entries built from event payloads alone, when the keyed
// contract lookup failed during enrichment.
type CertificateSummary struct {
	CertID common.Hash `json:"cert_id"`
	Certificate
	FromEventOnly bool `json:"from_event_only,omitempty"`
}

// RegistrationState describes the session's position in the
// disconnected -> connected -> registered -> issuer progression.
type RegistrationState int

const (
	StateDisconnected RegistrationState = iota
	StateUnregistered
	StateRegistered
	StateIssuer
)

func (s RegistrationState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateIssuer:
		return "issuer"
	default:
		return "unknown"
	}
}

var certIDPattern = regexp.MustCompile(`^(0x|0X)?[0-9a-fA-F]{64}$`)

// IsCertID reports whether s looks like a 32-byte registry ID, with or
// without the 0x prefix.
func IsCertID(s string) bool {
	return certIDPattern.MatchString(s)
}

// NormalizeCertID canonicalizes a registry ID to lower-case 0x-prefixed form.
// All contract calls take the normalized form.
func NormalizeCertID(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if !IsCertID(s) {
		return common.Hash{}, fmt.Errorf("invalid certificate id %q", s)
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	return common.HexToHash(strings.ToLower(s)), nil
}

// CertificateID reproduces the contract's ID derivation:
// keccak256("{name}-{recipient}-{ipfsHash}-{issueDate}") with the recipient in
// EIP-55 checksummed form. Only usable when the on-chain issue date is known;
// IDs for fresh issuance are always taken from the CertificateIssued event.
func CertificateID(name string, recipient common.Address, ipfsHash string, issueDate *big.Int) common.Hash {
	preimage := fmt.Sprintf("%s-%s-%s-%s", name, recipient.Hex(), ipfsHash, issueDate.String())
	return crypto.Keccak256Hash([]byte(preimage))
}

// ShortenAddress formats an address as 0x1234...abcd for notices and logs.
func ShortenAddress(addr common.Address) string {
	s := addr.Hex()
	return s[:6] + "..." + s[len(s)-4:]
}
