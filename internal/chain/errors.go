package chain

import "errors"

var (
	// ErrUnavailable means no wallet provider or node connection is present.
	// Callers surface it as a notice; nothing was submitted.
	ErrUnavailable = errors.New("chain: wallet or node not available")

	// ErrNotConnected means no account session is active yet.
	ErrNotConnected = errors.New("chain: wallet not connected")

	// ErrNotRegistered means the active account has not completed on-chain signup.
	ErrNotRegistered = errors.New("chain: account not registered")

	// ErrNotIssuer means the active account lacks issuer capability.
	ErrNotIssuer = errors.New("chain: account is not an issuer")

	// ErrEventNotFound means the expected event was missing from a confirmed
	// receipt. Fatal for the operation: the certificate ID cannot be guessed.
	ErrEventNotFound = errors.New("chain: expected event not found in receipt")

	// ErrConfirmTimeout means confirmation waiting exceeded the configured
	// deadline. Distinct from a rejected transaction.
	ErrConfirmTimeout = errors.New("chain: transaction confirmation timed out")
)
