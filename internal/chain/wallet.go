package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxBackend is what LocalWallet needs from the node to build and submit
// transactions. *ethclient.Client satisfies it.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// LocalWallet is the service hot wallet: a single in-process key that signs
// and submits transactions directly. It backs server-side issuance where no
// interactive wallet exists.
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	backend TxBackend

	mu      sync.Mutex
	chainID *big.Int
}

func NewLocalWallet(hexKey string, backend TxBackend) (*LocalWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse wallet key: %w", err)
	}
	return &LocalWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		backend: backend,
	}, nil
}

// Address returns the wallet account.
func (w *LocalWallet) Address() common.Address {
	return w.address
}

func (w *LocalWallet) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	return []common.Address{w.address}, nil
}

// RequestPermissions is a no-op for a single-key wallet: the same account is
// always selected.
func (w *LocalWallet) RequestPermissions(ctx context.Context) ([]common.Address, error) {
	return []common.Address{w.address}, nil
}

// OnAccountsChanged is a no-op: the local key never changes.
func (w *LocalWallet) OnAccountsChanged(fn func(accounts []common.Address)) {}

// SignMessage produces a personal-message signature over msg, with the
// recovery byte shifted to the 27/28 convention.
func (w *LocalWallet) SignMessage(ctx context.Context, account common.Address, msg []byte) ([]byte, error) {
	if account != w.address {
		return nil, fmt.Errorf("unknown account %s", account.Hex())
	}
	sig, err := crypto.Sign(PersonalMessageHash(msg).Bytes(), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// PersonalMessageHash hashes msg with the personal-message envelope prefix.
func PersonalMessageHash(msg []byte) common.Hash {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return crypto.Keccak256Hash([]byte(prefixed))
}

// SendTransaction fills in nonce, gas and chain ID, signs with the local key
// and submits. Submissions are serialized so concurrent callers cannot race
// on the same pending nonce.
func (w *LocalWallet) SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error) {
	if msg.From != (common.Address{}) && msg.From != w.address {
		return common.Hash{}, fmt.Errorf("unknown account %s", msg.From.Hex())
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	chainID, err := w.chainIDLocked(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}

	estimateMsg := msg
	estimateMsg.From = w.address
	gas, err := w.backend.EstimateGas(ctx, estimateMsg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       msg.To,
		Value:    msg.Value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     msg.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	return signed.Hash(), nil
}

func (w *LocalWallet) chainIDLocked(ctx context.Context) (*big.Int, error) {
	if w.chainID != nil {
		return w.chainID, nil
	}
	id, err := w.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	w.chainID = id
	return id, nil
}
