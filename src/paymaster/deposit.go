package paymaster

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/fee"
	"github.com/ethaccount/aawallet/src/ledger"
)

type depositKey struct {
	token   common.Address
	account common.Address
}

// DepositPaymaster pays gas in the native asset and recovers it in tokens from
// deposits accounts made in advance. paymasterData is the 20-byte token address.
type DepositPaymaster struct {
	funds

	oracles  map[common.Address]fee.Oracle
	deposits map[depositKey]*big.Int
	earned   map[common.Address]*big.Int
}

func NewDepositPaymaster(address common.Address) *DepositPaymaster {
	return &DepositPaymaster{
		funds:    newFunds(address),
		oracles:  make(map[common.Address]fee.Oracle),
		deposits: make(map[depositKey]*big.Int),
		earned:   make(map[common.Address]*big.Int),
	}
}

func (p *DepositPaymaster) Address() common.Address { return p.address }

// AddToken accepts token for gas payment, priced by oracle.
func (p *DepositPaymaster) AddToken(token common.Address, oracle fee.Oracle) error {
	if token == (common.Address{}) || oracle == nil {
		return fmt.Errorf("%w: token and oracle are required", erc4337.ErrUnsupportedToken)
	}
	if _, ok := p.oracles[token]; ok {
		return fmt.Errorf("token %s already added", token.Hex())
	}
	p.oracles[token] = oracle
	return nil
}

// SupportsToken reports whether token was added.
func (p *DepositPaymaster) SupportsToken(token common.Address) bool {
	_, ok := p.oracles[token]
	return ok
}

// Deposit adds native funds used to pay relayers.
func (p *DepositPaymaster) Deposit(st ledger.State, from common.Address, amount *big.Int) error {
	return p.addDeposit(st, from, amount)
}

// AddStake locks native funds as stake.
func (p *DepositPaymaster) AddStake(st ledger.State, from common.Address, amount *big.Int) error {
	return p.addStake(st, from, amount)
}

// AddDepositFor moves amount of token from `from` into account's deposit.
func (p *DepositPaymaster) AddDepositFor(st ledger.State, token, account, from common.Address, amount *big.Int) error {
	if !p.SupportsToken(token) {
		return fmt.Errorf("%w: %s", erc4337.ErrUnsupportedToken, token.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("invalid deposit amount %v", amount)
	}
	if err := st.TransferToken(token, from, p.address, amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return fmt.Errorf("%w: %v", erc4337.ErrInsufficientFunds, err)
		}
		return err
	}
	key := depositKey{token, account}
	p.setTokenDeposit(st, key, new(big.Int).Add(p.DepositOf(token, account), amount))
	return nil
}

// WithdrawTokensTo pays part of account's token deposit out to `to`.
func (p *DepositPaymaster) WithdrawTokensTo(st ledger.State, token, account, to common.Address, amount *big.Int) error {
	bal := p.DepositOf(token, account)
	if amount == nil || amount.Sign() <= 0 || bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: deposit %s, withdraw %v", erc4337.ErrInsufficientFunds, bal, amount)
	}
	if err := st.TransferToken(token, p.address, to, amount); err != nil {
		return err
	}
	p.setTokenDeposit(st, depositKey{token, account}, bal.Sub(bal, amount))
	return nil
}

func (p *DepositPaymaster) setTokenDeposit(st ledger.State, key depositKey, v *big.Int) {
	prev, existed := p.deposits[key]
	p.deposits[key] = v
	st.Journal(func() {
		if existed {
			p.deposits[key] = prev
		} else {
			delete(p.deposits, key)
		}
	})
}

func (p *DepositPaymaster) addEarned(st ledger.State, token common.Address, amount *big.Int) {
	prev, existed := p.earned[token]
	next := new(big.Int).Add(p.Earned(token), amount)
	p.earned[token] = next
	st.Journal(func() {
		if existed {
			p.earned[token] = prev
		} else {
			delete(p.earned, token)
		}
	})
}

// DepositOf is account's token deposit.
func (p *DepositPaymaster) DepositOf(token, account common.Address) *big.Int {
	if v, ok := p.deposits[depositKey{token, account}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Earned is the token amount collected as gas payment.
func (p *DepositPaymaster) Earned(token common.Address) *big.Int {
	if v, ok := p.earned[token]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (p *DepositPaymaster) NativeDeposit() *big.Int { return new(big.Int).Set(p.deposit) }

func (p *DepositPaymaster) Stake() *big.Int { return new(big.Int).Set(p.stake) }

// DepositInfo reports account's standing in token.
func (p *DepositPaymaster) DepositInfo(token, account common.Address) Deposit {
	return Deposit{
		Sponsor: p.address,
		Account: account,
		Token:   token,
		Balance: p.DepositOf(token, account),
		Staked:  p.stake.Sign() > 0,
	}
}

// Validate checks that the paymaster can pay maxCost and that the sender's
// token deposit covers it. It changes nothing.
func (p *DepositPaymaster) Validate(ctx context.Context, st ledger.State, op *erc4337.UserOperation, opHash common.Hash, maxCost *big.Int) (Context, error) {
	if len(op.PaymasterData) != common.AddressLength {
		return Context{}, fmt.Errorf("%w: expected a %d-byte token address, got %d bytes",
			ErrInvalidPaymasterData, common.AddressLength, len(op.PaymasterData))
	}
	token := common.BytesToAddress(op.PaymasterData)

	oracle, ok := p.oracles[token]
	if !ok {
		return Context{}, fmt.Errorf("%w: %s", erc4337.ErrUnsupportedToken, token.Hex())
	}
	rate, err := oracle.TokenRate(ctx, token)
	if err != nil {
		return Context{}, fmt.Errorf("%w: %v", erc4337.ErrUnsupportedToken, err)
	}

	if err := p.requireDeposit(maxCost); err != nil {
		return Context{}, err
	}

	estimate := fee.ToToken(maxCost, rate)
	if bal := p.DepositOf(token, op.Sender); bal.Cmp(estimate) < 0 {
		return Context{}, fmt.Errorf("%w: token deposit %s below estimate %s", erc4337.ErrInsufficientFunds, bal, estimate)
	}

	return Context{
		Account:       op.Sender,
		Token:         token,
		Rate:          rate,
		MaxCost:       new(big.Int).Set(maxCost),
		TokenEstimate: estimate,
	}, nil
}

// PostOp pays actualCost to collector from the native deposit and charges the
// account in tokens. The estimate is taken from the deposit and whatever
// exceeds the actual token cost goes back to the account's token balance.
// In PostOpReverted mode only the actual token cost is taken.
func (p *DepositPaymaster) PostOp(ctx context.Context, st ledger.State, mode PostOpMode, pctx Context, actualCost *big.Int, collector common.Address) error {
	actualTokens := fee.ToToken(actualCost, pctx.Rate)
	key := depositKey{pctx.Token, pctx.Account}
	bal := p.DepositOf(pctx.Token, pctx.Account)

	if err := p.pay(st, collector, actualCost); err != nil {
		return err
	}

	if mode == PostOpReverted {
		if bal.Cmp(actualTokens) < 0 {
			return fmt.Errorf("%w: token deposit %s below cost %s", erc4337.ErrInsufficientFunds, bal, actualTokens)
		}
		p.setTokenDeposit(st, key, bal.Sub(bal, actualTokens))
		p.addEarned(st, pctx.Token, actualTokens)
		return nil
	}

	if bal.Cmp(pctx.TokenEstimate) < 0 {
		return fmt.Errorf("%w: token deposit %s below estimate %s", erc4337.ErrInsufficientFunds, bal, pctx.TokenEstimate)
	}
	p.setTokenDeposit(st, key, new(big.Int).Sub(bal, pctx.TokenEstimate))

	refund := new(big.Int).Sub(pctx.TokenEstimate, actualTokens)
	if refund.Sign() > 0 {
		if err := st.TransferToken(pctx.Token, p.address, pctx.Account, refund); err != nil {
			return fmt.Errorf("failed to refund %s tokens to %s: %w", refund, pctx.Account.Hex(), err)
		}
	}
	p.addEarned(st, pctx.Token, actualTokens)

	logger(ctx, "deposit", p.address).Debug().
		Str("mode", mode.String()).
		Str("account", pctx.Account.Hex()).
		Str("actualCost", actualCost.String()).
		Str("tokenCost", actualTokens.String()).
		Str("refund", refund.String()).
		Msg("post op settled")
	return nil
}
