package erc4337

import (
	"errors"
)

// Protocol error taxonomy. Components wrap these with fmt.Errorf("...: %w").
var (
	ErrNonceMismatch         = errors.New("nonce mismatch")
	ErrAuthFailure           = errors.New("authorization failed")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrTargetCallFailure     = errors.New("target call failed")
	ErrRecoveryQuorumFailure = errors.New("recovery quorum not met")

	ErrReentrancy         = errors.New("reentrant call")
	ErrSenderMismatch     = errors.New("sender does not match init code")
	ErrAlreadyInitialized = errors.New("wallet already initialized")
	ErrNotInitialized     = errors.New("wallet not initialized")
	ErrUnknownSponsor     = errors.New("unknown paymaster")
	ErrGasLimit           = errors.New("gas limit exceeded")
	ErrInvalidOwner       = errors.New("invalid owner")
	ErrUnauthorizedCaller = errors.New("caller not authorized")
	ErrInvalidConfig      = errors.New("invalid wallet configuration")
	ErrUnsupportedToken   = errors.New("unsupported token")
)

// Failure is the class of error recorded in a receipt.
type Failure string

const (
	FailureNone              Failure = ""
	FailureNonceMismatch     Failure = "nonce_mismatch"
	FailureAuth              Failure = "auth_failure"
	FailureInsufficientFunds Failure = "insufficient_funds"
	FailureTargetCall        Failure = "target_call_failure"
	FailureRecoveryQuorum    Failure = "recovery_quorum_failure"
	FailureReentrancy        Failure = "reentrancy"
	FailureGasLimit          Failure = "gas_limit"
	FailureInvalidOperation  Failure = "invalid_operation"
)

// Classify maps an error to its failure class.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrNonceMismatch):
		return FailureNonceMismatch
	case errors.Is(err, ErrAuthFailure), errors.Is(err, ErrNotInitialized),
		errors.Is(err, ErrUnauthorizedCaller):
		return FailureAuth
	case errors.Is(err, ErrInsufficientFunds):
		return FailureInsufficientFunds
	case errors.Is(err, ErrRecoveryQuorumFailure):
		return FailureRecoveryQuorum
	case errors.Is(err, ErrReentrancy):
		return FailureReentrancy
	case errors.Is(err, ErrGasLimit):
		return FailureGasLimit
	case errors.Is(err, ErrTargetCallFailure):
		return FailureTargetCall
	default:
		return FailureInvalidOperation
	}
}
