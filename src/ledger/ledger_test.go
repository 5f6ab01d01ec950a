package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	token = common.HexToAddress("0x70c0000000000000000000000000000000000003")
)

// counter increments a journaled value on every call and fails when input is "fail".
type counter struct {
	n int
}

func (c *counter) Call(ctx context.Context, st State, caller common.Address, value *big.Int, input []byte) ([]byte, error) {
	prev := c.n
	c.n++
	st.Journal(func() { c.n = prev })
	if string(input) == "fail" {
		return []byte("reverted"), errors.New("counter failed")
	}
	return []byte{byte(c.n)}, nil
}

type counterDeployer struct{}

func (counterDeployer) Deploy(ctx context.Context, st State, addr common.Address, initCode []byte) (Contract, error) {
	if string(initCode) == "bad" {
		st.Mint(addr, big.NewInt(1))
		return nil, errors.New("bad init code")
	}
	return &counter{}, nil
}

func TestLedger_Transfer(t *testing.T) {
	tests := []struct {
		name      string
		amount    *big.Int
		wantErr   error
		wantAlice int64
		wantBob   int64
	}{
		{"ok", big.NewInt(40), nil, 60, 40},
		{"exact balance", big.NewInt(100), nil, 0, 100},
		{"zero", big.NewInt(0), nil, 100, 0},
		{"nil", nil, nil, 100, 0},
		{"insufficient", big.NewInt(101), ErrInsufficientBalance, 100, 0},
		{"negative", big.NewInt(-1), ErrNegativeAmount, 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(nil)
			l.Mint(alice, big.NewInt(100))

			err := l.Transfer(alice, bob, tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantAlice, l.Balance(alice).Int64())
			assert.Equal(t, tt.wantBob, l.Balance(bob).Int64())
		})
	}
}

func TestLedger_BalanceIsCopy(t *testing.T) {
	l := New(nil)
	l.Mint(alice, big.NewInt(10))

	b := l.Balance(alice)
	b.SetInt64(1000)

	assert.Equal(t, int64(10), l.Balance(alice).Int64())
}

func TestLedger_Tokens(t *testing.T) {
	l := New(nil)
	l.MintToken(token, alice, big.NewInt(50))

	require.NoError(t, l.TransferToken(token, alice, bob, big.NewInt(20)))
	assert.Equal(t, int64(30), l.TokenBalance(token, alice).Int64())
	assert.Equal(t, int64(20), l.TokenBalance(token, bob).Int64())

	err := l.TransferToken(token, bob, alice, big.NewInt(21))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// native and token balances are separate
	assert.Equal(t, 0, l.Balance(alice).Sign())
}

func TestLedger_SnapshotRevert(t *testing.T) {
	l := New(nil)
	l.Mint(alice, big.NewInt(100))

	snap := l.Snapshot()
	require.NoError(t, l.Transfer(alice, bob, big.NewInt(30)))
	l.MintToken(token, bob, big.NewInt(7))
	c := &counter{}
	require.NoError(t, l.Install(alice, c))

	inner := l.Snapshot()
	_, err := l.Call(context.Background(), bob, alice, big.NewInt(5), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c.n)

	l.RevertToSnapshot(inner)
	assert.Equal(t, 0, c.n)
	assert.Equal(t, int64(30), l.Balance(bob).Int64())

	l.RevertToSnapshot(snap)
	assert.Equal(t, int64(100), l.Balance(alice).Int64())
	assert.Equal(t, 0, l.Balance(bob).Sign())
	assert.Equal(t, 0, l.TokenBalance(token, bob).Sign())
	_, ok := l.Contract(alice)
	assert.False(t, ok)
}

func TestLedger_Call(t *testing.T) {
	t.Run("plain account accepts value", func(t *testing.T) {
		l := New(nil)
		l.Mint(alice, big.NewInt(10))

		out, err := l.Call(context.Background(), alice, bob, big.NewInt(4), []byte("ignored"))
		require.NoError(t, err)
		assert.Nil(t, out)
		assert.Equal(t, int64(4), l.Balance(bob).Int64())
	})

	t.Run("failed call leaves no trace", func(t *testing.T) {
		l := New(nil)
		l.Mint(alice, big.NewInt(10))
		c := &counter{}
		require.NoError(t, l.Install(bob, c))

		out, err := l.Call(context.Background(), alice, bob, big.NewInt(4), []byte("fail"))
		require.Error(t, err)
		assert.Equal(t, []byte("reverted"), out)
		assert.Equal(t, 0, c.n)
		assert.Equal(t, int64(10), l.Balance(alice).Int64())
		assert.Equal(t, 0, l.Balance(bob).Sign())
	})

	t.Run("value exceeding balance", func(t *testing.T) {
		l := New(nil)
		c := &counter{}
		require.NoError(t, l.Install(bob, c))

		_, err := l.Call(context.Background(), alice, bob, big.NewInt(1), nil)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, 0, c.n)
	})
}

func TestLedger_DeployAt(t *testing.T) {
	t.Run("no deployer", func(t *testing.T) {
		l := New(nil)
		_, err := l.DeployAt(context.Background(), alice, []byte("code"))
		assert.ErrorIs(t, err, ErrNoDeployer)
	})

	t.Run("deploys once", func(t *testing.T) {
		l := New(counterDeployer{})
		c, err := l.DeployAt(context.Background(), alice, []byte("code"))
		require.NoError(t, err)
		got, ok := l.Contract(alice)
		require.True(t, ok)
		assert.Same(t, c, got)

		_, err = l.DeployAt(context.Background(), alice, []byte("code"))
		assert.ErrorIs(t, err, ErrAlreadyDeployed)
	})

	t.Run("failed deploy is reverted", func(t *testing.T) {
		l := New(counterDeployer{})
		_, err := l.DeployAt(context.Background(), alice, []byte("bad"))
		require.Error(t, err)
		assert.Equal(t, 0, l.Balance(alice).Sign())
		_, ok := l.Contract(alice)
		assert.False(t, ok)
	})
}

func TestLedger_Commit(t *testing.T) {
	l := New(nil)
	l.Mint(alice, big.NewInt(1))
	assert.Equal(t, 1, l.Snapshot())

	l.Commit()
	assert.Equal(t, 0, l.Snapshot())
	assert.Equal(t, int64(1), l.Balance(alice).Int64())
}

func TestLedger_RevertInvalidSnapshot(t *testing.T) {
	l := New(nil)
	assert.Panics(t, func() { l.RevertToSnapshot(5) })
}
