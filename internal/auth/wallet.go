package auth

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/certifychain/backend/internal/chain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// DefaultNonceTTL is the maximum age of a login nonce. One nonce is
	// minted per login attempt, so a short window is enough.
	DefaultNonceTTL = 5 * time.Minute

	loginMessageTemplate = "CertifyChain login\nNonce: %s\nIssued at: %s"
)

// BuildLoginMessage renders the exact text the wallet is asked to sign for a
// login nonce. The client must sign it byte for byte.
func BuildLoginMessage(nonce string, issuedAt time.Time) string {
	return fmt.Sprintf(loginMessageTemplate, nonce, issuedAt.UTC().Format(time.RFC3339))
}

// VerifyWalletSignature checks that signature is a personal-message signature
// over message produced by the key behind claimedAddress. The signature is
// 65 bytes hex with the recovery byte in either 0/1 or 27/28 form.
func VerifyWalletSignature(claimedAddress string, message string, signature string) (common.Address, error) {
	if !common.IsHexAddress(claimedAddress) {
		return common.Address{}, fmt.Errorf("invalid wallet address %q", claimedAddress)
	}
	claimed := common.HexToAddress(claimedAddress)

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("signature is not hex: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d, want %d", len(sig), crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	digest := chain.PersonalMessageHash([]byte(message))
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pub)
	if recovered != claimed {
		return common.Address{}, fmt.Errorf("signature was made by %s, not %s", recovered.Hex(), claimed.Hex())
	}
	return recovered, nil
}
