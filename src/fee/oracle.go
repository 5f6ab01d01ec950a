package fee

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var ErrNoRate = errors.New("no rate for token")

// Oracle prices a token against the native asset: the rate is tokens per native unit.
type Oracle interface {
	TokenRate(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

// StaticOracle serves fixed rates.
type StaticOracle struct {
	rates map[common.Address]decimal.Decimal
}

func NewStaticOracle(rates map[common.Address]decimal.Decimal) *StaticOracle {
	cp := make(map[common.Address]decimal.Decimal, len(rates))
	for k, v := range rates {
		cp[k] = v
	}
	return &StaticOracle{rates: cp}
}

func (o *StaticOracle) TokenRate(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	rate, ok := o.rates[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoRate, token.Hex())
	}
	return rate, nil
}

// SetRate adds or replaces the rate of token.
func (o *StaticOracle) SetRate(token common.Address, rate decimal.Decimal) {
	o.rates[token] = rate
}

// ParseRates parses "0xToken=rate,0xToken=rate".
func ParseRates(s string) (map[common.Address]decimal.Decimal, error) {
	rates := make(map[common.Address]decimal.Decimal)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid token rate %q: expected address=rate", pair)
		}
		addr := strings.TrimSpace(parts[0])
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid token address %q", addr)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", addr, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be positive", addr)
		}
		rates[common.HexToAddress(addr)] = rate
	}
	return rates, nil
}
