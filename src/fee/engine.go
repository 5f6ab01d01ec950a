// Package fee computes gas charges and moves them between wallets, sponsors
// and relayers.
package fee

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

// Quote is a derived charge: gas used at an effective price, optionally paid in a token.
type Quote struct {
	GasUsed  *big.Int
	GasPrice *big.Int
	Token    common.Address
	Rate     decimal.Decimal
}

// IsToken reports whether the quote is paid in a token.
func (q Quote) IsToken() bool {
	return q.Token != (common.Address{})
}

// Cost is the native cost, gasUsed * gasPrice.
func (q Quote) Cost() *big.Int {
	if q.GasUsed == nil || q.GasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(q.GasUsed, q.GasPrice)
}

// TokenCost is Cost converted at Rate, rounded up.
func (q Quote) TokenCost() *big.Int {
	return ToToken(q.Cost(), q.Rate)
}

// Amount is what the payer is charged in the quote's own denomination.
func (q Quote) Amount() *big.Int {
	if q.IsToken() {
		return q.TokenCost()
	}
	return q.Cost()
}

// ToToken converts a native amount to token units at rate, rounding up so the
// payee is never short-changed.
func ToToken(amount *big.Int, rate decimal.Decimal) *big.Int {
	if amount == nil {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(amount, 0).Mul(rate).Ceil().BigInt()
}

// Engine prices and settles charges.
type Engine struct {
	oracle Oracle
}

func NewEngine(oracle Oracle) *Engine {
	return &Engine{oracle: oracle}
}

func (e *Engine) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "fee").Logger()
	return &l
}

// Oracle returns the rate source, or nil when only native payment is supported.
func (e *Engine) Oracle() Oracle {
	return e.oracle
}

// Quote prices gasUsed at gasPrice, in token when token is non-zero.
func (e *Engine) Quote(ctx context.Context, gasUsed, gasPrice *big.Int, token common.Address) (Quote, error) {
	q := Quote{
		GasUsed:  new(big.Int).Set(gasUsed),
		GasPrice: new(big.Int).Set(gasPrice),
		Token:    token,
		Rate:     decimal.NewFromInt(1),
	}
	if !q.IsToken() {
		return q, nil
	}
	rate, err := e.TokenRate(ctx, token)
	if err != nil {
		return Quote{}, err
	}
	q.Rate = rate
	return q, nil
}

// TokenRate looks up token's rate in the oracle.
func (e *Engine) TokenRate(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	if e.oracle == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", erc4337.ErrUnsupportedToken, token.Hex())
	}
	rate, err := e.oracle.TokenRate(ctx, token)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", erc4337.ErrUnsupportedToken, err)
	}
	return rate, nil
}

// Charge moves the quoted amount from payer to payee and returns it.
func (e *Engine) Charge(ctx context.Context, st ledger.State, payer, payee common.Address, q Quote) (*big.Int, error) {
	amount := q.Amount()

	var err error
	if q.IsToken() {
		err = st.TransferToken(q.Token, payer, payee, amount)
	} else {
		err = st.Transfer(payer, payee, amount)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			return nil, fmt.Errorf("%w: %v", erc4337.ErrInsufficientFunds, err)
		}
		return nil, err
	}

	e.logger(ctx).Debug().
		Str("payer", payer.Hex()).
		Str("payee", payee.Hex()).
		Str("token", q.Token.Hex()).
		Str("amount", amount.String()).
		Msg("charged")
	return amount, nil
}
