package paymaster

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/fee"
	"github.com/ethaccount/aawallet/src/ledger"
	"github.com/ethaccount/aawallet/src/signature"
)

var (
	testEntryPoint = common.HexToAddress("0xe000000000000000000000000000000000000001")
	testChainID    = big.NewInt(1337)
	testToken      = common.HexToAddress("0x70c0000000000000000000000000000000000001")
	paymasterAddr  = common.HexToAddress("0x9a40000000000000000000000000000000000001")
	sponsor        = common.HexToAddress("0x5b00000000000000000000000000000000000001")
	account        = common.HexToAddress("0xacc0000000000000000000000000000000000001")
	collector      = common.HexToAddress("0xc011000000000000000000000000000000000001")
)

func newOp(paymaster common.Address, data []byte) *erc4337.UserOperation {
	return &erc4337.UserOperation{
		Sender:               account,
		Nonce:                (*hexutil.Big)(big.NewInt(0)),
		CallGasLimit:         (*hexutil.Big)(big.NewInt(100_000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(100_000)),
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(10_000)),
		MaxFeePerGas:         (*hexutil.Big)(big.NewInt(1)),
		MaxPriorityFeePerGas: (*hexutil.Big)(big.NewInt(1)),
		Paymaster:            &paymaster,
		PaymasterData:        data,
	}
}

func newDepositPaymaster(t *testing.T, st *ledger.Ledger) *DepositPaymaster {
	t.Helper()
	p := NewDepositPaymaster(paymasterAddr)
	oracle := fee.NewStaticOracle(map[common.Address]decimal.Decimal{testToken: decimal.NewFromInt(2)})
	require.NoError(t, p.AddToken(testToken, oracle))

	st.Mint(sponsor, big.NewInt(10_000_000))
	require.NoError(t, p.AddStake(st, sponsor, big.NewInt(100)))
	require.NoError(t, p.Deposit(st, sponsor, big.NewInt(1_000_000)))
	return p
}

func TestPostOpMode_String(t *testing.T) {
	assert.Equal(t, "opSucceeded", OpSucceeded.String())
	assert.Equal(t, "opReverted", OpReverted.String())
	assert.Equal(t, "postOpReverted", PostOpReverted.String())
	assert.Equal(t, "PostOpMode(7)", PostOpMode(7).String())
}

func TestDepositPaymaster_AddDepositFor(t *testing.T) {
	st := ledger.New(nil)
	p := newDepositPaymaster(t, st)
	st.MintToken(testToken, sponsor, big.NewInt(500))

	require.NoError(t, p.AddDepositFor(st, testToken, account, sponsor, big.NewInt(300)))
	assert.Equal(t, big.NewInt(300), p.DepositOf(testToken, account))
	assert.Equal(t, big.NewInt(200), st.TokenBalance(testToken, sponsor))
	assert.Equal(t, big.NewInt(300), st.TokenBalance(testToken, paymasterAddr))

	err := p.AddDepositFor(st, testToken, account, sponsor, big.NewInt(1000))
	assert.ErrorIs(t, err, erc4337.ErrInsufficientFunds)

	err = p.AddDepositFor(st, common.HexToAddress("0xbad"), account, sponsor, big.NewInt(1))
	assert.ErrorIs(t, err, erc4337.ErrUnsupportedToken)

	require.NoError(t, p.WithdrawTokensTo(st, testToken, account, account, big.NewInt(100)))
	assert.Equal(t, big.NewInt(200), p.DepositOf(testToken, account))
	assert.Equal(t, big.NewInt(100), st.TokenBalance(testToken, account))

	info := p.DepositInfo(testToken, account)
	assert.True(t, info.Staked)
	assert.Equal(t, big.NewInt(200), info.Balance)
}

func TestDepositPaymaster_Validate(t *testing.T) {
	st := ledger.New(nil)
	p := newDepositPaymaster(t, st)
	st.MintToken(testToken, sponsor, big.NewInt(1_000_000))
	require.NoError(t, p.AddDepositFor(st, testToken, account, sponsor, big.NewInt(1_000_000)))

	tests := []struct {
		name    string
		data    []byte
		maxCost *big.Int
		wantErr error
	}{
		{"valid", testToken.Bytes(), big.NewInt(210_000), nil},
		{"short data", testToken.Bytes()[:10], big.NewInt(210_000), ErrInvalidPaymasterData},
		{"unsupported token", common.HexToAddress("0xbad").Bytes(), big.NewInt(210_000), erc4337.ErrUnsupportedToken},
		{"token deposit too small", testToken.Bytes(), big.NewInt(600_000), erc4337.ErrInsufficientFunds},
		{"native deposit too small", testToken.Bytes(), big.NewInt(2_000_000), erc4337.ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := newOp(paymasterAddr, tt.data)
			pctx, err := p.Validate(context.Background(), st, op, common.Hash{}, tt.maxCost)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, account, pctx.Account)
			assert.Equal(t, testToken, pctx.Token)
			assert.Equal(t, big.NewInt(420_000), pctx.TokenEstimate)
		})
	}
}

func TestDepositPaymaster_PostOp(t *testing.T) {
	st := ledger.New(nil)
	p := newDepositPaymaster(t, st)
	st.MintToken(testToken, sponsor, big.NewInt(1_000_000))
	require.NoError(t, p.AddDepositFor(st, testToken, account, sponsor, big.NewInt(1_000_000)))

	op := newOp(paymasterAddr, testToken.Bytes())
	pctx, err := p.Validate(context.Background(), st, op, common.Hash{}, big.NewInt(210_000))
	require.NoError(t, err)

	require.NoError(t, p.PostOp(context.Background(), st, OpSucceeded, pctx, big.NewInt(50_000), collector))

	assert.Equal(t, big.NewInt(50_000), st.Balance(collector))
	assert.Equal(t, big.NewInt(950_000), p.NativeDeposit())
	// estimate 420000 taken, actual 100000, the rest back to the account
	assert.Equal(t, big.NewInt(580_000), p.DepositOf(testToken, account))
	assert.Equal(t, big.NewInt(320_000), st.TokenBalance(testToken, account))
	assert.Equal(t, big.NewInt(100_000), p.Earned(testToken))
}

func TestDepositPaymaster_PostOpReverted(t *testing.T) {
	st := ledger.New(nil)
	p := newDepositPaymaster(t, st)
	st.MintToken(testToken, sponsor, big.NewInt(1_000_000))
	require.NoError(t, p.AddDepositFor(st, testToken, account, sponsor, big.NewInt(1_000_000)))

	op := newOp(paymasterAddr, testToken.Bytes())
	pctx, err := p.Validate(context.Background(), st, op, common.Hash{}, big.NewInt(210_000))
	require.NoError(t, err)

	require.NoError(t, p.PostOp(context.Background(), st, PostOpReverted, pctx, big.NewInt(50_000), collector))
	assert.Equal(t, big.NewInt(900_000), p.DepositOf(testToken, account))
	assert.Equal(t, 0, st.TokenBalance(testToken, account).Sign())
}

func TestDepositPaymaster_RevertRestoresState(t *testing.T) {
	st := ledger.New(nil)
	p := newDepositPaymaster(t, st)
	st.MintToken(testToken, sponsor, big.NewInt(1_000_000))

	snap := st.Snapshot()
	require.NoError(t, p.AddDepositFor(st, testToken, account, sponsor, big.NewInt(1_000)))
	require.NoError(t, p.Deposit(st, sponsor, big.NewInt(5)))
	st.RevertToSnapshot(snap)

	assert.Equal(t, 0, p.DepositOf(testToken, account).Sign())
	assert.Equal(t, big.NewInt(1_000_000), p.NativeDeposit())
	assert.Equal(t, big.NewInt(1_000_000), st.TokenBalance(testToken, sponsor))
}

func TestVerifyingPaymaster(t *testing.T) {
	signerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(signerKey.PublicKey)

	setup := func(t *testing.T, stake int64) (*ledger.Ledger, *VerifyingPaymaster) {
		st := ledger.New(nil)
		p := NewVerifyingPaymaster(paymasterAddr, signer, testEntryPoint, testChainID, big.NewInt(100))
		st.Mint(sponsor, big.NewInt(10_000_000))
		if stake > 0 {
			require.NoError(t, p.AddStake(st, sponsor, big.NewInt(stake)))
		}
		require.NoError(t, p.Deposit(st, sponsor, big.NewInt(1_000_000)))
		return st, p
	}

	t.Run("approved op", func(t *testing.T) {
		st, p := setup(t, 101)
		op := newOp(paymasterAddr, nil)
		hash, err := p.Hash(op)
		require.NoError(t, err)
		op.PaymasterData, err = signature.Sign(hash, signerKey)
		require.NoError(t, err)

		pctx, err := p.Validate(context.Background(), st, op, common.Hash{}, big.NewInt(210_000))
		require.NoError(t, err)

		require.NoError(t, p.PostOp(context.Background(), st, OpSucceeded, pctx, big.NewInt(40_000), collector))
		assert.Equal(t, big.NewInt(40_000), st.Balance(collector))
		assert.Equal(t, big.NewInt(960_000), p.NativeDeposit())
	})

	t.Run("wrong signer", func(t *testing.T) {
		st, p := setup(t, 101)
		op := newOp(paymasterAddr, nil)
		hash, err := p.Hash(op)
		require.NoError(t, err)
		op.PaymasterData, err = signature.Sign(hash, otherKey)
		require.NoError(t, err)

		_, err = p.Validate(context.Background(), st, op, common.Hash{}, big.NewInt(210_000))
		assert.ErrorIs(t, err, erc4337.ErrAuthFailure)
	})

	t.Run("signature does not cover a changed op", func(t *testing.T) {
		st, p := setup(t, 101)
		op := newOp(paymasterAddr, nil)
		hash, err := p.Hash(op)
		require.NoError(t, err)
		op.PaymasterData, err = signature.Sign(hash, signerKey)
		require.NoError(t, err)
		op.CallData = []byte{0x01}

		_, err = p.Validate(context.Background(), st, op, common.Hash{}, big.NewInt(210_000))
		assert.ErrorIs(t, err, erc4337.ErrAuthFailure)
	})

	t.Run("stake equal to minimum", func(t *testing.T) {
		st, p := setup(t, 100)
		op := newOp(paymasterAddr, nil)
		hash, err := p.Hash(op)
		require.NoError(t, err)
		op.PaymasterData, err = signature.Sign(hash, signerKey)
		require.NoError(t, err)

		_, err = p.Validate(context.Background(), st, op, common.Hash{}, big.NewInt(210_000))
		assert.ErrorIs(t, err, ErrNotStaked)
	})

	t.Run("understaked", func(t *testing.T) {
		st, p := setup(t, 10)
		op := newOp(paymasterAddr, nil)
		hash, err := p.Hash(op)
		require.NoError(t, err)
		op.PaymasterData, err = signature.Sign(hash, signerKey)
		require.NoError(t, err)

		_, err = p.Validate(context.Background(), st, op, common.Hash{}, big.NewInt(210_000))
		assert.ErrorIs(t, err, ErrNotStaked)
		assert.ErrorIs(t, err, erc4337.ErrInsufficientFunds)
	})

	t.Run("deposit below max cost", func(t *testing.T) {
		st, p := setup(t, 101)
		op := newOp(paymasterAddr, nil)
		hash, err := p.Hash(op)
		require.NoError(t, err)
		op.PaymasterData, err = signature.Sign(hash, signerKey)
		require.NoError(t, err)

		_, err = p.Validate(context.Background(), st, op, common.Hash{}, big.NewInt(2_000_000))
		assert.ErrorIs(t, err, erc4337.ErrInsufficientFunds)
	})

	t.Run("malformed data", func(t *testing.T) {
		st, p := setup(t, 101)
		op := newOp(paymasterAddr, []byte{1, 2, 3})
		_, err := p.Validate(context.Background(), st, op, common.Hash{}, big.NewInt(1))
		assert.ErrorIs(t, err, ErrInvalidPaymasterData)
	})
}
