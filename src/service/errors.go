package service

import (
	"errors"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/entrypoint"
	"github.com/ethaccount/aawallet/src/paymaster"
)

var (
	ErrUnsupportedEntryPoint = errors.New("unsupported entry point")
	ErrUnknownPaymaster      = errors.New("unknown paymaster")
	ErrInvalidAmount         = errors.New("invalid amount")
)

// IsSponsorRejection reports whether err is a paymaster turning an operation down.
func IsSponsorRejection(err error) bool {
	return errors.Is(err, erc4337.ErrUnknownSponsor) ||
		errors.Is(err, erc4337.ErrUnsupportedToken) ||
		errors.Is(err, paymaster.ErrInvalidPaymasterData) ||
		errors.Is(err, paymaster.ErrNotStaked)
}

// IsRejection reports whether err means the operation itself is unacceptable,
// as opposed to the node failing to process it.
func IsRejection(err error) bool {
	if err == nil {
		return false
	}
	if IsSponsorRejection(err) ||
		errors.Is(err, entrypoint.ErrInvalidOperation) ||
		errors.Is(err, entrypoint.ErrInvalidBeneficiary) ||
		errors.Is(err, erc4337.ErrSenderMismatch) {
		return true
	}
	return erc4337.Classify(err) != erc4337.FailureInvalidOperation
}
