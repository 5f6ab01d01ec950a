package service

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethaccount/aawallet/erc4337"
)

func newRPCClient(t *testing.T, env *bundlerEnv) erc4337.Bundler {
	t.Helper()
	server, err := NewRPCServer(env.bundler)
	require.NoError(t, err)
	t.Cleanup(server.Stop)

	client := erc4337.NewBundlerClient(rpc.DialInProc(server))
	t.Cleanup(client.Close)
	return client
}

func TestRPCService_Metadata(t *testing.T) {
	env := newBundlerEnv(t)
	client := newRPCClient(t, env)

	chainID, err := client.ChainId(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, testChainID, chainID)

	eps, err := client.SupportedEntryPoints(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testEntryPoint}, eps)

	initCode := env.initCode(t)
	sender, err := client.GetSenderAddress(env.ctx, initCode)
	require.NoError(t, err)
	assert.Equal(t, env.bundler.SenderAddress(initCode), sender)

	op := env.newOp(t, 0, big.NewInt(1), true)
	hash, err := client.GetUserOpHash(env.ctx, op, testEntryPoint)
	require.NoError(t, err)
	want, err := env.bundler.UserOpHash(op)
	require.NoError(t, err)
	assert.Equal(t, want, hash)
}

func TestRPCService_SendAndReceipt(t *testing.T) {
	env := newBundlerEnv(t)
	client := newRPCClient(t, env)

	op := env.newOp(t, 0, big.NewInt(9), true)
	require.NoError(t, env.bundler.Fund(env.ctx, op.Sender, common.Address{}, oneEther))

	hash, err := client.SendUserOperation(env.ctx, op, testEntryPoint)
	require.NoError(t, err)

	r, err := client.GetUserOperationReceipt(env.ctx, hash)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, erc4337.StatusSucceeded, r.Status)
	assert.Equal(t, op.Sender, r.Sender)
	assert.Equal(t, big.NewInt(9), env.ledger.Balance(testReceiver))

	r, err = client.GetUserOperationReceipt(env.ctx, common.HexToHash("0xdead"))
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestRPCService_Errors(t *testing.T) {
	env := newBundlerEnv(t)
	client := newRPCClient(t, env)

	tests := []struct {
		name     string
		send     func() error
		wantCode int
	}{
		{
			name: "unsupported entry point",
			send: func() error {
				_, err := client.SendUserOperation(env.ctx, env.newOp(t, 0, big.NewInt(1), true), common.HexToAddress("0x1"))
				return err
			},
			wantCode: codeInvalidParams,
		},
		{
			name: "unfunded wallet",
			send: func() error {
				_, err := client.SendUserOperation(env.ctx, env.newOp(t, 0, big.NewInt(1), true), testEntryPoint)
				return err
			},
			wantCode: codeRejectedByAccount,
		},
		{
			name: "unknown paymaster",
			send: func() error {
				op := env.newOp(t, 0, big.NewInt(1), true)
				pm := common.HexToAddress("0x5b")
				op.Paymaster = &pm
				env.sign(t, op)
				_, err := client.SendUserOperation(env.ctx, op, testEntryPoint)
				return err
			},
			wantCode: codeRejectedBySponsor,
		},
		{
			name: "empty init code",
			send: func() error {
				_, err := client.GetSenderAddress(env.ctx, nil)
				return err
			},
			wantCode: codeInvalidParams,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.send()
			require.Error(t, err)

			var rpcErr rpc.Error
			require.True(t, errors.As(err, &rpcErr))
			assert.Equal(t, tt.wantCode, rpcErr.ErrorCode())
		})
	}
}

func TestRPCService_HandleOps(t *testing.T) {
	env := newBundlerEnv(t)
	client := newRPCClient(t, env)

	good := env.newOp(t, 0, big.NewInt(2), true)
	require.NoError(t, env.bundler.Fund(env.ctx, good.Sender, common.Address{}, oneEther))
	replay := good.Copy()

	receipts, err := client.HandleOps(env.ctx, []*erc4337.UserOperation{good, replay}, testBeneficiary)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	assert.Equal(t, erc4337.StatusSucceeded, receipts[0].Status)
	assert.Equal(t, erc4337.StatusRejected, receipts[1].Status)
	assert.Equal(t, erc4337.FailureNonceMismatch, receipts[1].Failure)
	assert.Equal(t, receipts[0].Cost(), env.ledger.Balance(testBeneficiary))
}
