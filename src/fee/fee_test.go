package fee

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/ledger"
)

var (
	payer = common.HexToAddress("0x1000000000000000000000000000000000000001")
	payee = common.HexToAddress("0x2000000000000000000000000000000000000002")
	token = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

func TestEffectiveGasPrice(t *testing.T) {
	tests := []struct {
		name                   string
		maxFee, priority, base *big.Int
		want                   int64
	}{
		{"base plus priority below cap", big.NewInt(100), big.NewInt(2), big.NewInt(10), 12},
		{"capped at max fee", big.NewInt(11), big.NewInt(2), big.NewInt(10), 11},
		{"zero base fee", big.NewInt(100), big.NewInt(3), big.NewInt(0), 3},
		{"nil base fee", big.NewInt(100), big.NewInt(3), nil, 3},
		{"nil max fee", nil, big.NewInt(3), big.NewInt(1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveGasPrice(tt.maxFee, tt.priority, tt.base).Int64())
		})
	}
}

func TestGasSchedule(t *testing.T) {
	assert.Equal(t, uint64(4+16+16), CalldataGas([]byte{0, 1, 2}))
	assert.Equal(t, int64(21000+16), CallGas([]byte{1}).Int64())
	assert.Equal(t, int64(ValidationBaseGas+2*SignatureGas), ValidationGas(2, false, nil).Int64())
	assert.Equal(t, int64(ValidationBaseGas+SignatureGas+SponsorCheckGas), ValidationGas(1, true, nil).Int64())
	assert.Equal(t,
		int64(ValidationBaseGas+SignatureGas+DeployBaseGas+10*DeployByteGas),
		ValidationGas(1, false, make([]byte, 10)).Int64())
}

func TestQuote(t *testing.T) {
	q := Quote{GasUsed: big.NewInt(1000), GasPrice: big.NewInt(3), Rate: decimal.RequireFromString("1.5")}
	assert.False(t, q.IsToken())
	assert.Equal(t, int64(3000), q.Cost().Int64())
	assert.Equal(t, int64(3000), q.Amount().Int64())

	q.Token = token
	assert.True(t, q.IsToken())
	assert.Equal(t, int64(4500), q.TokenCost().Int64())
	assert.Equal(t, int64(4500), q.Amount().Int64())
}

func TestToToken_RoundsUp(t *testing.T) {
	tests := []struct {
		amount int64
		rate   string
		want   int64
	}{
		{10, "1", 10},
		{10, "0.25", 3},
		{3, "0.5", 2},
		{0, "7", 0},
	}

	for _, tt := range tests {
		t.Run(tt.rate, func(t *testing.T) {
			assert.Equal(t, tt.want, ToToken(big.NewInt(tt.amount), decimal.RequireFromString(tt.rate)).Int64())
		})
	}
}

func TestEngine_Quote(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(NewStaticOracle(map[common.Address]decimal.Decimal{
		token: decimal.NewFromInt(2),
	}))

	q, err := engine.Quote(ctx, big.NewInt(10), big.NewInt(5), common.Address{})
	require.NoError(t, err)
	assert.Equal(t, int64(50), q.Amount().Int64())

	q, err = engine.Quote(ctx, big.NewInt(10), big.NewInt(5), token)
	require.NoError(t, err)
	assert.Equal(t, int64(100), q.Amount().Int64())

	_, err = engine.Quote(ctx, big.NewInt(10), big.NewInt(5), payee)
	assert.ErrorIs(t, err, erc4337.ErrUnsupportedToken)

	_, err = NewEngine(nil).Quote(ctx, big.NewInt(10), big.NewInt(5), token)
	assert.ErrorIs(t, err, erc4337.ErrUnsupportedToken)
}

func TestEngine_Charge(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(NewStaticOracle(map[common.Address]decimal.Decimal{token: decimal.NewFromInt(2)}))

	t.Run("native", func(t *testing.T) {
		st := ledger.New(nil)
		st.Mint(payer, big.NewInt(100))

		amount, err := engine.Charge(ctx, st, payer, payee, Quote{GasUsed: big.NewInt(10), GasPrice: big.NewInt(4)})
		require.NoError(t, err)
		assert.Equal(t, int64(40), amount.Int64())
		assert.Equal(t, int64(60), st.Balance(payer).Int64())
		assert.Equal(t, int64(40), st.Balance(payee).Int64())
	})

	t.Run("token", func(t *testing.T) {
		st := ledger.New(nil)
		st.MintToken(token, payer, big.NewInt(100))

		q, err := engine.Quote(ctx, big.NewInt(10), big.NewInt(4), token)
		require.NoError(t, err)
		amount, err := engine.Charge(ctx, st, payer, payee, q)
		require.NoError(t, err)
		assert.Equal(t, int64(80), amount.Int64())
		assert.Equal(t, int64(80), st.TokenBalance(token, payee).Int64())
		assert.Equal(t, 0, st.Balance(payee).Sign())
	})

	t.Run("insufficient", func(t *testing.T) {
		st := ledger.New(nil)
		st.Mint(payer, big.NewInt(39))

		_, err := engine.Charge(ctx, st, payer, payee, Quote{GasUsed: big.NewInt(10), GasPrice: big.NewInt(4)})
		assert.ErrorIs(t, err, erc4337.ErrInsufficientFunds)
		assert.Equal(t, int64(39), st.Balance(payer).Int64())
	})
}

func TestParseRates(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[common.Address]string
		wantErr bool
	}{
		{"empty", "", map[common.Address]string{}, false},
		{
			"two tokens",
			"0x3000000000000000000000000000000000000003=1.5, 0x2000000000000000000000000000000000000002=2000",
			map[common.Address]string{token: "1.5", payee: "2000"},
			false,
		},
		{"missing rate", "0x3000000000000000000000000000000000000003", nil, true},
		{"bad address", "0x30=1", nil, true},
		{"bad rate", "0x3000000000000000000000000000000000000003=abc", nil, true},
		{"zero rate", "0x3000000000000000000000000000000000000003=0", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rates, err := ParseRates(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, rates, len(tt.want))
			for addr, rate := range tt.want {
				assert.True(t, decimal.RequireFromString(rate).Equal(rates[addr]), "rate for %s", addr.Hex())
			}
		})
	}
}
