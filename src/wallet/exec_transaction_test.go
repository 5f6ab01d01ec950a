package wallet

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/fee"
	"github.com/ethaccount/aawallet/src/signature"
)

func (e *testEnv) signTx(t *testing.T, tx Transaction, keys ...*ecdsa.PrivateKey) []byte {
	t.Helper()
	digest, err := e.wallet.TransactionHash(tx)
	require.NoError(t, err)
	sigs, err := signature.SignAll(digest, keys...)
	require.NoError(t, err)
	return sigs
}

func (e *testEnv) execTransaction(t *testing.T, tx Transaction, sigs []byte) (ExecResult, error) {
	t.Helper()
	input, err := EncodeExecTransaction(tx, sigs)
	require.NoError(t, err)
	out, err := e.st.Call(e.ctx, relayer, e.wallet.Address(), nil, input)
	if err != nil {
		return ExecResult{}, err
	}
	return DecodeExecResult(out)
}

func TestExecTransaction(t *testing.T) {
	t.Run("transfer without refund", func(t *testing.T) {
		env := newTestEnv(t, 2, 2, 0, 0)
		env.st.Mint(env.wallet.Address(), big.NewInt(100))

		tx := Transaction{To: receiver, Value: big.NewInt(5)}
		res, err := env.execTransaction(t, tx, env.signTx(t, tx, env.keys...))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.False(t, res.Paid)
		assert.Equal(t, int64(5), env.st.Balance(receiver).Int64())
		assert.Equal(t, uint64(1), env.wallet.Nonce())
	})

	t.Run("native refund to relayer", func(t *testing.T) {
		env := newTestEnv(t, 1, 1, 0, 0)
		env.st.Mint(env.wallet.Address(), big.NewInt(10_000_000))

		tx := Transaction{To: receiver, Value: big.NewInt(5), BaseGas: big.NewInt(1000), GasPrice: big.NewInt(10)}
		res, err := env.execTransaction(t, tx, env.signTx(t, tx, env.keys[0]))
		require.NoError(t, err)

		expected := new(big.Int).Mul(big.NewInt(fee.CallBaseGas+1000), big.NewInt(10))
		assert.True(t, res.Success)
		assert.True(t, res.Paid)
		assert.Equal(t, expected, res.Payment)
		assert.Equal(t, expected, env.st.Balance(relayer))
	})

	t.Run("token refund to refund receiver", func(t *testing.T) {
		env := newTestEnv(t, 1, 1, 0, 0)
		env.st.MintToken(testToken, env.wallet.Address(), big.NewInt(10_000_000))
		refundReceiver := common.HexToAddress("0x4efd")

		tx := Transaction{To: receiver, GasPrice: big.NewInt(1), GasToken: testToken, RefundReceiver: refundReceiver}
		res, err := env.execTransaction(t, tx, env.signTx(t, tx, env.keys[0]))
		require.NoError(t, err)

		// rate 2 tokens per native unit
		assert.Equal(t, big.NewInt(2*fee.CallBaseGas), res.Payment)
		assert.Equal(t, big.NewInt(2*fee.CallBaseGas), env.st.TokenBalance(testToken, refundReceiver))
		assert.Equal(t, 0, env.st.TokenBalance(testToken, relayer).Sign())
	})

	t.Run("failed call is still refunded", func(t *testing.T) {
		env := newTestEnv(t, 1, 1, 0, 0)
		env.st.Mint(env.wallet.Address(), big.NewInt(1_000_000))

		// value above the wallet balance
		tx := Transaction{To: receiver, Value: big.NewInt(2_000_000), GasPrice: big.NewInt(1)}
		res, err := env.execTransaction(t, tx, env.signTx(t, tx, env.keys[0]))
		require.NoError(t, err)

		assert.False(t, res.Success)
		assert.True(t, res.Paid)
		assert.Equal(t, 0, env.st.Balance(receiver).Sign())
		assert.Equal(t, uint64(1), env.wallet.Nonce())
	})

	t.Run("failed call without gas terms reverts everything", func(t *testing.T) {
		env := newTestEnv(t, 1, 1, 0, 0)

		tx := Transaction{To: receiver, Value: big.NewInt(1)}
		_, err := env.execTransaction(t, tx, env.signTx(t, tx, env.keys[0]))
		assert.ErrorIs(t, err, erc4337.ErrTargetCallFailure)
		assert.Equal(t, uint64(0), env.wallet.Nonce())
	})

	t.Run("call gas limit too low", func(t *testing.T) {
		env := newTestEnv(t, 1, 1, 0, 0)
		env.st.Mint(env.wallet.Address(), big.NewInt(1_000_000))

		tx := Transaction{To: receiver, Value: big.NewInt(1), CallGas: big.NewInt(100)}
		res, err := env.execTransaction(t, tx, env.signTx(t, tx, env.keys[0]))
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, 0, env.st.Balance(receiver).Sign())
		assert.Equal(t, uint64(1), env.wallet.Nonce())
	})

	t.Run("unpayable refund rolls back the call", func(t *testing.T) {
		env := newTestEnv(t, 1, 1, 0, 0)
		env.st.Mint(env.wallet.Address(), big.NewInt(10))

		tx := Transaction{To: receiver, Value: big.NewInt(5), GasPrice: big.NewInt(1)}
		res, err := env.execTransaction(t, tx, env.signTx(t, tx, env.keys[0]))
		require.NoError(t, err)

		assert.False(t, res.Success)
		assert.False(t, res.Paid)
		assert.Equal(t, 0, env.st.Balance(receiver).Sign())
		assert.Equal(t, int64(10), env.st.Balance(env.wallet.Address()).Int64())
		assert.Equal(t, uint64(1), env.wallet.Nonce(), "nonce stays consumed")
	})

	t.Run("replay", func(t *testing.T) {
		env := newTestEnv(t, 1, 1, 0, 0)
		env.st.Mint(env.wallet.Address(), big.NewInt(100))

		tx := Transaction{To: receiver, Value: big.NewInt(5)}
		sigs := env.signTx(t, tx, env.keys[0])
		_, err := env.execTransaction(t, tx, sigs)
		require.NoError(t, err)

		_, err = env.execTransaction(t, tx, sigs)
		assert.ErrorIs(t, err, erc4337.ErrAuthFailure)
		assert.Equal(t, int64(5), env.st.Balance(receiver).Int64())
	})

	t.Run("insufficient signatures", func(t *testing.T) {
		env := newTestEnv(t, 3, 2, 0, 0)
		env.st.Mint(env.wallet.Address(), big.NewInt(100))

		tx := Transaction{To: receiver, Value: big.NewInt(5)}
		_, err := env.execTransaction(t, tx, env.signTx(t, tx, env.keys[1]))
		assert.ErrorIs(t, err, erc4337.ErrAuthFailure)
		assert.Equal(t, 0, env.st.Balance(receiver).Sign())
	})

	t.Run("unsupported gas token", func(t *testing.T) {
		env := newTestEnv(t, 1, 1, 0, 0)
		env.st.Mint(env.wallet.Address(), big.NewInt(100))

		tx := Transaction{To: receiver, Value: big.NewInt(5), GasPrice: big.NewInt(1), GasToken: common.HexToAddress("0xbad")}
		res, err := env.execTransaction(t, tx, env.signTx(t, tx, env.keys[0]))
		require.NoError(t, err)
		assert.False(t, res.Paid)
		assert.Equal(t, 0, env.st.Balance(receiver).Sign())
	})
}

func TestTransactionHash_BindsNonce(t *testing.T) {
	tx := Transaction{To: receiver, Value: big.NewInt(1)}
	wallet := common.HexToAddress("0x5afe")

	h0, err := TransactionHash(wallet, testChainID, tx, 0)
	require.NoError(t, err)
	h1, err := TransactionHash(wallet, testChainID, tx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, h0, h1)

	other, err := TransactionHash(common.HexToAddress("0x5aff"), testChainID, tx, 0)
	require.NoError(t, err)
	assert.NotEqual(t, h0, other)
}
