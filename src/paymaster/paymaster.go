// Package paymaster implements fee sponsors: a deposit paymaster that takes
// gas payment in tokens from per-account deposits, and a verifying paymaster
// that pays for operations its signer approved.
package paymaster

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/ledger"
)

var (
	ErrInvalidPaymasterData = errors.New("invalid paymaster data")
	ErrNotStaked            = errors.New("paymaster stake not above minimum")
)

// PostOpMode tells a sponsor how the operation it paid for ended.
type PostOpMode int

const (
	// OpSucceeded: the target call succeeded.
	OpSucceeded PostOpMode = iota
	// OpReverted: the target call failed; gas is still owed.
	OpReverted
	// PostOpReverted: a first PostOp failed and was rolled back; this is the
	// second and last chance to pay.
	PostOpReverted
)

func (m PostOpMode) String() string {
	switch m {
	case OpSucceeded:
		return "opSucceeded"
	case OpReverted:
		return "opReverted"
	case PostOpReverted:
		return "postOpReverted"
	default:
		return fmt.Sprintf("PostOpMode(%d)", int(m))
	}
}

// Context carries what validation learned to settlement.
type Context struct {
	Account       common.Address
	Token         common.Address
	Rate          decimal.Decimal
	MaxCost       *big.Int
	TokenEstimate *big.Int
}

// Deposit is a sponsor's standing for one account (deposit mode) or for
// everyone (verifying mode, zero Account).
type Deposit struct {
	Sponsor common.Address `json:"sponsor"`
	Account common.Address `json:"account"`
	Token   common.Address `json:"token"`
	Balance *big.Int       `json:"balance"`
	Staked  bool           `json:"staked"`
}

// funds is the native deposit and stake a sponsor holds at its own ledger address.
type funds struct {
	address common.Address
	deposit *big.Int
	stake   *big.Int
}

func newFunds(address common.Address) funds {
	return funds{address: address, deposit: new(big.Int), stake: new(big.Int)}
}

func (f *funds) setDeposit(st ledger.State, v *big.Int) {
	prev := f.deposit
	f.deposit = v
	st.Journal(func() { f.deposit = prev })
}

func (f *funds) setStake(st ledger.State, v *big.Int) {
	prev := f.stake
	f.stake = v
	st.Journal(func() { f.stake = prev })
}

// addDeposit moves amount of native funds from `from` to the sponsor's deposit.
func (f *funds) addDeposit(st ledger.State, from common.Address, amount *big.Int) error {
	if err := transfer(st, from, f.address, amount); err != nil {
		return err
	}
	f.setDeposit(st, new(big.Int).Add(f.deposit, amount))
	return nil
}

// addStake locks amount of native funds from `from` as stake.
func (f *funds) addStake(st ledger.State, from common.Address, amount *big.Int) error {
	if err := transfer(st, from, f.address, amount); err != nil {
		return err
	}
	f.setStake(st, new(big.Int).Add(f.stake, amount))
	return nil
}

// pay moves amount out of the deposit to collector.
func (f *funds) pay(st ledger.State, collector common.Address, amount *big.Int) error {
	if f.deposit.Cmp(amount) < 0 {
		return fmt.Errorf("%w: paymaster deposit %s, cost %s", erc4337.ErrInsufficientFunds, f.deposit, amount)
	}
	if err := transfer(st, f.address, collector, amount); err != nil {
		return err
	}
	f.setDeposit(st, new(big.Int).Sub(f.deposit, amount))
	return nil
}

func (f *funds) requireDeposit(maxCost *big.Int) error {
	if f.deposit.Cmp(maxCost) < 0 {
		return fmt.Errorf("%w: paymaster deposit %s below max cost %s", erc4337.ErrInsufficientFunds, f.deposit, maxCost)
	}
	return nil
}

func transfer(st ledger.State, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid amount %v", amount)
	}
	if err := st.Transfer(from, to, amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", erc4337.ErrInsufficientFunds, err)
		}
		return err
	}
	return nil
}

func logger(ctx context.Context, kind string, address common.Address) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "paymaster").Str("kind", kind).Str("paymaster", address.Hex()).Logger()
	return &l
}
