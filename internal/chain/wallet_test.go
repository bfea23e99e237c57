package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const testWalletKey = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

type fakeBackend struct {
	nonce    uint64
	gasPrice *big.Int
	chainID  *big.Int
	sent     []*types.Transaction
}

func (b *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return b.nonce, nil
}

func (b *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return b.gasPrice, nil
}

func (b *fakeBackend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 120000, nil
}

func (b *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return b.chainID, nil
}

func (b *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

func TestLocalWalletSignMessageRecoverable(t *testing.T) {
	w, err := NewLocalWallet(testWalletKey, &fakeBackend{})
	if err != nil {
		t.Fatalf("NewLocalWallet() error = %v", err)
	}

	msg := []byte("login nonce 42")
	sig, err := w.SignMessage(context.Background(), w.Address(), msg)
	if err != nil {
		t.Fatalf("SignMessage() error = %v", err)
	}
	if len(sig) != crypto.SignatureLength {
		t.Fatalf("signature length = %d, want %d", len(sig), crypto.SignatureLength)
	}
	if v := sig[crypto.RecoveryIDOffset]; v != 27 && v != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", v)
	}

	recovery := make([]byte, len(sig))
	copy(recovery, sig)
	recovery[crypto.RecoveryIDOffset] -= 27
	pub, err := crypto.SigToPub(PersonalMessageHash(msg).Bytes(), recovery)
	if err != nil {
		t.Fatalf("SigToPub() error = %v", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != w.Address() {
		t.Errorf("recovered address = %s, want %s", got.Hex(), w.Address().Hex())
	}
}

func TestLocalWalletRejectsUnknownAccount(t *testing.T) {
	w, err := NewLocalWallet("0x"+testWalletKey, &fakeBackend{})
	if err != nil {
		t.Fatalf("NewLocalWallet() error = %v", err)
	}

	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	if _, err := w.SignMessage(context.Background(), other, []byte("x")); err == nil {
		t.Error("SignMessage() accepted unknown account")
	}
	if _, err := w.SendTransaction(context.Background(), ethereum.CallMsg{From: other}); err == nil {
		t.Error("SendTransaction() accepted unknown account")
	}
}

func TestLocalWalletSendTransaction(t *testing.T) {
	backend := &fakeBackend{nonce: 7, gasPrice: big.NewInt(2_000_000_000), chainID: big.NewInt(80002)}
	w, err := NewLocalWallet(testWalletKey, backend)
	if err != nil {
		t.Fatalf("NewLocalWallet() error = %v", err)
	}

	to := testContract
	hash, err := w.SendTransaction(context.Background(), ethereum.CallMsg{To: &to, Data: []byte{0x01}})
	if err != nil {
		t.Fatalf("SendTransaction() error = %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("submitted %d transactions, want 1", len(backend.sent))
	}

	tx := backend.sent[0]
	if tx.Hash() != hash {
		t.Errorf("returned hash %s != submitted hash %s", hash.Hex(), tx.Hash().Hex())
	}
	if tx.Nonce() != 7 {
		t.Errorf("nonce = %d, want 7", tx.Nonce())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(backend.chainID), tx)
	if err != nil {
		t.Fatalf("Sender() error = %v", err)
	}
	if sender != w.Address() {
		t.Errorf("sender = %s, want %s", sender.Hex(), w.Address().Hex())
	}
}
