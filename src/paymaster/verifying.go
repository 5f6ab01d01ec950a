package paymaster

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/ledger"
	"github.com/ethaccount/aawallet/src/signature"
)

// VerifyingPaymaster pays for operations its signer approved off-chain.
// paymasterData is the signer's 65-byte signature over the op's paymaster hash.
type VerifyingPaymaster struct {
	funds

	signer     common.Address
	entryPoint common.Address
	chainID    *big.Int
	minStake   *big.Int
}

func NewVerifyingPaymaster(address, signer, entryPoint common.Address, chainID, minStake *big.Int) *VerifyingPaymaster {
	if minStake == nil {
		minStake = new(big.Int)
	}
	return &VerifyingPaymaster{
		funds:      newFunds(address),
		signer:     signer,
		entryPoint: entryPoint,
		chainID:    new(big.Int).Set(chainID),
		minStake:   new(big.Int).Set(minStake),
	}
}

func (p *VerifyingPaymaster) Address() common.Address { return p.address }

func (p *VerifyingPaymaster) Signer() common.Address { return p.signer }

func (p *VerifyingPaymaster) Deposit(st ledger.State, from common.Address, amount *big.Int) error {
	return p.addDeposit(st, from, amount)
}

func (p *VerifyingPaymaster) AddStake(st ledger.State, from common.Address, amount *big.Int) error {
	return p.addStake(st, from, amount)
}

func (p *VerifyingPaymaster) NativeDeposit() *big.Int { return new(big.Int).Set(p.deposit) }

func (p *VerifyingPaymaster) Stake() *big.Int { return new(big.Int).Set(p.stake) }

func (p *VerifyingPaymaster) DepositInfo() Deposit {
	return Deposit{
		Sponsor: p.address,
		Balance: p.NativeDeposit(),
		Staked:  p.stake.Cmp(p.minStake) > 0,
	}
}

// Hash is the digest the signer signs for op.
func (p *VerifyingPaymaster) Hash(op *erc4337.UserOperation) (common.Hash, error) {
	return op.PaymasterHash(p.entryPoint, p.chainID)
}

// Validate checks the signer's approval, a stake above the minimum and the
// deposit. It changes nothing.
func (p *VerifyingPaymaster) Validate(ctx context.Context, st ledger.State, op *erc4337.UserOperation, opHash common.Hash, maxCost *big.Int) (Context, error) {
	if len(op.PaymasterData) != signature.Length {
		return Context{}, fmt.Errorf("%w: expected a %d-byte signature, got %d bytes",
			ErrInvalidPaymasterData, signature.Length, len(op.PaymasterData))
	}

	hash, err := p.Hash(op)
	if err != nil {
		return Context{}, err
	}
	if _, err := signature.Verify(hash, op.PaymasterData, []common.Address{p.signer}, 1); err != nil {
		return Context{}, fmt.Errorf("paymaster signature: %w", err)
	}

	if p.stake.Cmp(p.minStake) <= 0 {
		return Context{}, fmt.Errorf("%w: %w: stake %s, minimum %s", erc4337.ErrInsufficientFunds, ErrNotStaked, p.stake, p.minStake)
	}
	if err := p.requireDeposit(maxCost); err != nil {
		return Context{}, err
	}

	return Context{Account: op.Sender, MaxCost: new(big.Int).Set(maxCost)}, nil
}

// PostOp pays actualCost from the deposit to collector, whatever the mode.
func (p *VerifyingPaymaster) PostOp(ctx context.Context, st ledger.State, mode PostOpMode, pctx Context, actualCost *big.Int, collector common.Address) error {
	if err := p.pay(st, collector, actualCost); err != nil {
		return err
	}
	logger(ctx, "verifying", p.address).Debug().
		Str("mode", mode.String()).
		Str("account", pctx.Account.Hex()).
		Str("actualCost", actualCost.String()).
		Msg("post op settled")
	return nil
}
