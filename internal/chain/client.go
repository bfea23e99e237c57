package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Wallet is the injected signing capability: a connected browser wallet
// bridge in interactive deployments, or the service hot wallet (LocalWallet)
// for server-side issuance. Implementations are expected to block on user
// interaction for as long as the context allows.
type Wallet interface {
	// RequestAccounts asks the provider for account access and returns the
	// active accounts, selected first.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// RequestPermissions prompts a fresh account selection.
	RequestPermissions(ctx context.Context) ([]common.Address, error)
	// SendTransaction signs and submits a transaction built from msg and
	// returns its hash.
	SendTransaction(ctx context.Context, msg ethereum.CallMsg) (common.Hash, error)
	// SignMessage signs a personal message with the given account.
	SignMessage(ctx context.Context, account common.Address, msg []byte) ([]byte, error)
	// OnAccountsChanged registers a callback for provider-side account switches.
	OnAccountsChanged(fn func(accounts []common.Address))
}

// Node is the read side of the chain connection. *ethclient.Client satisfies it.
type Node interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Options tune confirmation waiting and post-signup state refresh.
type Options struct {
	ReceiptPollInterval  time.Duration
	ConfirmTimeout       time.Duration
	RegistrationAttempts int
	RegistrationDelay    time.Duration
}

func (o *Options) withDefaults() {
	if o.ReceiptPollInterval <= 0 {
		o.ReceiptPollInterval = 2 * time.Second
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 90 * time.Second
	}
	if o.RegistrationAttempts <= 0 {
		o.RegistrationAttempts = 2
	}
	if o.RegistrationDelay <= 0 {
		o.RegistrationDelay = 2 * time.Second
	}
}

// alreadyRegisteredReason is the known failure the contract reports for a
// duplicate signup. It is downgraded to success: the account is registered
// either way.
const alreadyRegisteredReason = "already registered"

// Client wraps the wallet connection and the CertifyChain contract. Session
// state (active account, cached registration record) is guarded by a mutex so
// connect and account-switch cannot interleave and bind two accounts at once.
type Client struct {
	wallet Wallet
	node   Node
	addr   common.Address
	abi    abi.ABI
	opts   Options
	log    *zap.Logger

	mu         sync.Mutex
	connected  bool
	account    common.Address
	user       *UserRecord
	subscribed bool
}

func NewClient(wallet Wallet, node Node, contractAddr common.Address, opts Options, log *zap.Logger) *Client {
	opts.withDefaults()
	return &Client{
		wallet: wallet,
		node:   node,
		addr:   contractAddr,
		abi:    contractABI,
		opts:   opts,
		log:    log,
	}
}

// ContractAddress returns the configured registry address.
func (c *Client) ContractAddress() common.Address {
	return c.addr
}

// State derives the current RegistrationState. It is never persisted; a new
// process re-derives it from the wallet and contract.
func (c *Client) State() RegistrationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Client) stateLocked() RegistrationState {
	switch {
	case !c.connected:
		return StateDisconnected
	case c.user == nil || !c.user.IsRegistered:
		return StateUnregistered
	case c.user.IsHR:
		return StateIssuer
	default:
		return StateRegistered
	}
}

// Account returns the active account and whether a session is connected.
func (c *Client) Account() (common.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account, c.connected
}

// UserRecord returns a copy of the cached registration record, if any.
func (c *Client) UserRecord() *UserRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Connect requests account access, binds the contract to the selected account
// and fetches its registration record. A missing wallet provider is reported
// as ErrUnavailable, not a crash.
func (c *Client) Connect(ctx context.Context) (common.Address, error) {
	if c.wallet == nil || c.node == nil {
		return common.Address{}, ErrUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	accounts, err := c.wallet.RequestAccounts(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrUnavailable
	}

	c.account = accounts[0]
	c.connected = true
	c.user = c.fetchUserLocked(ctx)

	if !c.subscribed {
		c.subscribed = true
		c.wallet.OnAccountsChanged(func(accounts []common.Address) {
			if len(accounts) == 0 {
				return
			}
			c.handleAccountChange(accounts[0])
		})
	}

	c.log.Info("wallet connected",
		zap.String("account", c.account.Hex()),
		zap.String("state", c.stateLocked().String()),
	)
	return c.account, nil
}

// SwitchAccount prompts a fresh account selection and re-derives session
// state for the newly selected address.
func (c *Client) SwitchAccount(ctx context.Context) (common.Address, error) {
	if c.wallet == nil {
		return common.Address{}, ErrUnavailable
	}

	accounts, err := c.wallet.RequestPermissions(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("request permissions: %w", err)
	}
	if len(accounts) == 0 {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.account, nil
	}

	c.mu.Lock()
	current := c.account
	c.mu.Unlock()

	if accounts[0] != current {
		c.handleAccountChange(accounts[0])
		c.log.Info("switched account", zap.String("account", ShortenAddress(accounts[0])))
	}
	return accounts[0], nil
}

func (c *Client) handleAccountChange(newAccount common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = newAccount
	c.connected = true
	// Cached registration info belongs to the previous account.
	c.user = c.fetchUserLocked(context.Background())
	c.log.Info("account changed",
		zap.String("account", ShortenAddress(newAccount)),
		zap.String("state", c.stateLocked().String()),
	)
}

// fetchUserLocked reads the users(account) record. Errors are logged and
// treated as "no record": registration state is always re-derivable later.
func (c *Client) fetchUserLocked(ctx context.Context) *UserRecord {
	rec, err := c.usersCall(ctx, c.account)
	if err != nil {
		c.log.Warn("failed to fetch user record", zap.Error(err))
		return nil
	}
	return rec
}

func (c *Client) usersCall(ctx context.Context, account common.Address) (*UserRecord, error) {
	out, err := c.callFrom(ctx, account, "users", account)
	if err != nil {
		return nil, err
	}
	name, _ := out[0].(string)
	isHR, _ := out[1].(bool)
	isRegistered, _ := out[2].(bool)
	return &UserRecord{Name: name, IsHR: isHR, IsRegistered: isRegistered}, nil
}

// Signup submits a registration transaction and waits for confirmation.
// A contract rejection for an already-registered account is treated as
// success: the supplied name and issuer flag are recorded locally. After
// confirmation the registration record is re-fetched with a short retry loop
// to absorb read-after-write lag against the node.
func (c *Client) Signup(ctx context.Context, name string, isIssuer bool) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	from := c.account
	c.mu.Unlock()

	data, err := c.abi.Pack("signup", name, isIssuer)
	if err != nil {
		return fmt.Errorf("pack signup: %w", err)
	}

	txHash, err := c.wallet.SendTransaction(ctx, ethereum.CallMsg{From: from, To: &c.addr, Data: data})
	if err != nil {
		if isAlreadyRegistered(err) {
			c.recordRegistration(name, isIssuer)
			c.log.Info("signup skipped, account already registered", zap.String("account", from.Hex()))
			return nil
		}
		return fmt.Errorf("submit signup: %w", err)
	}

	receipt, err := c.waitMined(ctx, txHash)
	if err != nil {
		if isAlreadyRegistered(err) {
			c.recordRegistration(name, isIssuer)
			return nil
		}
		return err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("signup transaction reverted: %s", txHash.Hex())
	}

	c.refreshRegistration(ctx, name, isIssuer)
	return nil
}

// refreshRegistration re-reads the user record with bounded retries; if the
// node still serves the stale record after the last attempt, the known-good
// values from the confirmed signup are kept.
func (c *Client) refreshRegistration(ctx context.Context, name string, isIssuer bool) {
	c.mu.Lock()
	account := c.account
	c.mu.Unlock()

	for attempt := 0; attempt < c.opts.RegistrationAttempts; attempt++ {
		rec, err := c.usersCall(ctx, account)
		if err == nil && rec.IsRegistered {
			c.mu.Lock()
			c.user = rec
			c.mu.Unlock()
			return
		}
		select {
		case <-ctx.Done():
			c.recordRegistration(name, isIssuer)
			return
		case <-time.After(c.opts.RegistrationDelay):
		}
	}
	c.recordRegistration(name, isIssuer)
}

func (c *Client) recordRegistration(name string, isIssuer bool) {
	c.mu.Lock()
	c.user = &UserRecord{Name: name, IsHR: isIssuer, IsRegistered: true}
	c.mu.Unlock()
}

func isAlreadyRegistered(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), alreadyRegisteredReason)
}

// IssueCertificate registers a certificate on-chain and returns the
// contract-assigned ID decoded from the CertificateIssued event in the
// receipt. The ID is a hash over inputs including the on-chain timestamp, so
// it can never be derived locally; a receipt without the event is fatal.
// Both preconditions abort before anything is submitted.
func (c *Client) IssueCertificate(ctx context.Context, name string, recipient common.Address, ipfsHash string) (common.Hash, error) {
	c.mu.Lock()
	state := c.stateLocked()
	from := c.account
	c.mu.Unlock()

	switch state {
	case StateDisconnected:
		return common.Hash{}, ErrNotConnected
	case StateUnregistered:
		return common.Hash{}, ErrNotRegistered
	case StateRegistered:
		return common.Hash{}, ErrNotIssuer
	}

	data, err := c.abi.Pack("issueCertificate", recipient, name, ipfsHash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack issueCertificate: %w", err)
	}

	txHash, err := c.wallet.SendTransaction(ctx, ethereum.CallMsg{From: from, To: &c.addr, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("submit issueCertificate: %w", err)
	}

	receipt, err := c.waitMined(ctx, txHash)
	if err != nil {
		return common.Hash{}, err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return common.Hash{}, fmt.Errorf("issueCertificate transaction reverted: %s", txHash.Hex())
	}

	certID, ok := c.certIDFromReceipt(receipt)
	if !ok {
		return common.Hash{}, ErrEventNotFound
	}

	c.log.Info("certificate issued on-chain",
		zap.String("cert_id", certID.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("tx", txHash.Hex()),
	)
	return certID, nil
}

// certIDFromReceipt scans receipt logs for the CertificateIssued event.
// Unrelated or undecodable logs are skipped, never fatal for the scan.
func (c *Client) certIDFromReceipt(receipt *types.Receipt) (common.Hash, bool) {
	issuedID := c.abi.Events[EventCertificateIssued].ID
	for _, lg := range receipt.Logs {
		if lg == nil || lg.Address != c.addr || len(lg.Topics) == 0 || lg.Topics[0] != issuedID {
			continue
		}
		vals, err := c.abi.Unpack(EventCertificateIssued, lg.Data)
		if err != nil {
			c.log.Debug("skipping undecodable log", zap.Error(err))
			continue
		}
		raw, ok := vals[0].([32]byte)
		if !ok {
			continue
		}
		return common.BytesToHash(raw[:]), true
	}
	return common.Hash{}, false
}

// VerifyCertificate normalizes the ID and decodes the contract's status
// message into a VerifyStatus. Requires on-chain registration.
func (c *Client) VerifyCertificate(ctx context.Context, certID string) (VerifyStatus, error) {
	if err := c.requireRegistered(); err != nil {
		return VerifyUnknown, err
	}

	id, err := NormalizeCertID(certID)
	if err != nil {
		return VerifyUnknown, err
	}

	out, err := c.call(ctx, "verifyCertificate", id)
	if err != nil {
		return VerifyUnknown, fmt.Errorf("verifyCertificate: %w", err)
	}
	raw, _ := out[0].(string)
	return DecodeVerifyStatus(raw), nil
}

// RevokeCertificate submits a revocation and waits for confirmation.
func (c *Client) RevokeCertificate(ctx context.Context, certID string) error {
	c.mu.Lock()
	state := c.stateLocked()
	from := c.account
	c.mu.Unlock()

	switch state {
	case StateDisconnected:
		return ErrNotConnected
	case StateUnregistered:
		return ErrNotRegistered
	case StateRegistered:
		return ErrNotIssuer
	}

	id, err := NormalizeCertID(certID)
	if err != nil {
		return err
	}

	data, err := c.abi.Pack("revokeCertificate", id)
	if err != nil {
		return fmt.Errorf("pack revokeCertificate: %w", err)
	}

	txHash, err := c.wallet.SendTransaction(ctx, ethereum.CallMsg{From: from, To: &c.addr, Data: data})
	if err != nil {
		return fmt.Errorf("submit revokeCertificate: %w", err)
	}

	receipt, err := c.waitMined(ctx, txHash)
	if err != nil {
		return err
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return fmt.Errorf("revokeCertificate transaction reverted: %s", txHash.Hex())
	}

	c.log.Info("certificate revoked on-chain", zap.String("cert_id", id.Hex()))
	return nil
}

// GetUserCertificates returns the caller's own on-chain certificates with
// their derived registry IDs.
func (c *Client) GetUserCertificates(ctx context.Context) ([]CertificateSummary, error) {
	if err := c.requireRegistered(); err != nil {
		return nil, err
	}

	out, err := c.call(ctx, "getUserCertificates")
	if err != nil {
		return nil, fmt.Errorf("getUserCertificates: %w", err)
	}

	certs, err := decodeCertificateTuples(out[0])
	if err != nil {
		return nil, err
	}

	summaries := make([]CertificateSummary, 0, len(certs))
	for _, cert := range certs {
		summaries = append(summaries, CertificateSummary{
			CertID:      CertificateID(cert.Name, cert.Recipient, cert.IpfsHash, cert.IssueDate),
			Certificate: cert,
		})
	}
	return summaries, nil
}

// GetCertificatesByRecipient resolves certificates for an address the
// contract has no direct accessor for: phase one scans CertificateIssued
// event logs filtered by the recipient topic over the full historical range;
// phase two enriches each hit through the keyed certificates(certId) lookup
// for canonical issuer/date/validity. When the keyed lookup fails, the event
// payload alone is kept as a fallback. One bad log never aborts the scan.
func (c *Client) GetCertificatesByRecipient(ctx context.Context, recipient common.Address) ([]CertificateSummary, error) {
	if c.node == nil {
		return nil, ErrUnavailable
	}

	issuedID := c.abi.Events[EventCertificateIssued].ID
	recipientTopic := common.BytesToHash(common.LeftPadBytes(recipient.Bytes(), 32))

	logs, err := c.node.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(0),
		ToBlock:   nil, // latest
		Addresses: []common.Address{c.addr},
		Topics:    [][]common.Hash{{issuedID}, nil, {recipientTopic}},
	})
	if err != nil {
		return nil, fmt.Errorf("filter CertificateIssued logs: %w", err)
	}

	summaries := make([]CertificateSummary, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 3 {
			continue
		}
		vals, err := c.abi.Unpack(EventCertificateIssued, lg.Data)
		if err != nil {
			c.log.Debug("skipping undecodable CertificateIssued log",
				zap.Uint64("block", lg.BlockNumber), zap.Error(err))
			continue
		}
		raw, ok := vals[0].([32]byte)
		if !ok {
			continue
		}
		certID := common.BytesToHash(raw[:])
		name, _ := vals[1].(string)
		issuer := common.BytesToAddress(lg.Topics[1].Bytes())

		detail, err := c.certificateCall(ctx, certID)
		if err != nil || detail == nil {
			if err != nil {
				c.log.Debug("keyed lookup failed, falling back to event payload",
					zap.String("cert_id", certID.Hex()), zap.Error(err))
			}
			summaries = append(summaries, CertificateSummary{
				CertID: certID,
				Certificate: Certificate{
					Name:      name,
					Issuer:    issuer,
					Recipient: recipient,
					IssueDate: new(big.Int).SetUint64(lg.BlockNumber),
				},
				FromEventOnly: true,
			})
			continue
		}
		summaries = append(summaries, CertificateSummary{CertID: certID, Certificate: *detail})
	}
	return summaries, nil
}

// GetCertificateDetails is the direct keyed lookup. A result whose recipient
// is the zero address is the contract's implicit "does not exist" sentinel
// and yields (nil, nil), never a zero-valued certificate.
func (c *Client) GetCertificateDetails(ctx context.Context, certID string) (*Certificate, error) {
	id, err := NormalizeCertID(certID)
	if err != nil {
		return nil, err
	}
	return c.certificateCall(ctx, id)
}

func (c *Client) certificateCall(ctx context.Context, id common.Hash) (*Certificate, error) {
	out, err := c.call(ctx, "certificates", id)
	if err != nil {
		return nil, fmt.Errorf("certificates lookup: %w", err)
	}

	cert := Certificate{}
	cert.Name, _ = out[0].(string)
	cert.Issuer, _ = out[1].(common.Address)
	cert.Recipient, _ = out[2].(common.Address)
	cert.IpfsHash, _ = out[3].(string)
	cert.IssueDate, _ = out[4].(*big.Int)
	cert.IsValid, _ = out[5].(bool)

	if cert.Recipient == (common.Address{}) {
		return nil, nil
	}
	return &cert, nil
}

func (c *Client) requireRegistered() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.stateLocked() {
	case StateDisconnected:
		return ErrNotConnected
	case StateUnregistered:
		return ErrNotRegistered
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	c.mu.Lock()
	from := c.account
	c.mu.Unlock()
	return c.callFrom(ctx, from, method, args...)
}

// callFrom performs a read-only contract call. It takes the from address
// explicitly so it stays safe to use while c.mu is held.
func (c *Client) callFrom(ctx context.Context, from common.Address, method string, args ...any) ([]any, error) {
	if c.node == nil {
		return nil, ErrUnavailable
	}
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.node.CallContract(ctx, ethereum.CallMsg{From: from, To: &c.addr, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return c.abi.Unpack(method, raw)
}

// decodeCertificateTuples converts the anonymous tuple slice returned by the
// ABI decoder into Certificate values.
func decodeCertificateTuples(v any) (certs []Certificate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decode certificate tuples: %v", r)
		}
	}()
	certs = *abi.ConvertType(v, new([]Certificate)).(*[]Certificate)
	return certs, nil
}

// waitMined polls for the transaction receipt until it lands or the confirm
// timeout expires. Timing out is reported as ErrConfirmTimeout so callers can
// distinguish a slow chain from a rejected transaction.
func (c *Client) waitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.opts.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.node.TransactionReceipt(waitCtx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrConfirmTimeout, txHash.Hex())
			}
			return nil, fmt.Errorf("transaction receipt: %w", err)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrConfirmTimeout, txHash.Hex())
		case <-ticker.C:
		}
	}
}
