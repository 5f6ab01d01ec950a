package recovery

import (
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/signature"
)

var (
	testWallet = common.HexToAddress("0x5afe000000000000000000000000000000000001")
	sentinel   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	chainID    = big.NewInt(1337)
)

func generateGuardians(t *testing.T, n int) ([]*ecdsa.PrivateKey, []common.Address) {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, n)
	addrs := make([]common.Address, n)
	for i := range keys {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = key
		addrs[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return keys, addrs
}

func TestNew(t *testing.T) {
	_, addrs := generateGuardians(t, 3)

	tests := []struct {
		name      string
		members   []common.Address
		threshold int
		wantErr   bool
	}{
		{"no guardians", nil, 0, false},
		{"two of three", addrs, 2, false},
		{"all of three", addrs, 3, false},
		{"threshold above size", addrs, 4, true},
		{"zero threshold with guardians", addrs, 0, true},
		{"negative threshold", addrs, -1, true},
		{"threshold without guardians", nil, 1, true},
		{"duplicate", []common.Address{addrs[0], addrs[0]}, 1, true},
		{"zero address", []common.Address{{}}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.members, tt.threshold)
			if tt.wantErr {
				assert.ErrorIs(t, err, erc4337.ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.threshold, g.Threshold())
			assert.Len(t, g.Members(), len(tt.members))
		})
	}
}

func TestAuthorize(t *testing.T) {
	keys, addrs := generateGuardians(t, 3)
	outsiders, _ := generateGuardians(t, 1)
	owner := common.HexToAddress("0x0a00000000000000000000000000000000000001")
	newOwner := common.HexToAddress("0x0b00000000000000000000000000000000000002")

	req := Request{PrevOwner: sentinel, OldOwner: owner, NewOwner: newOwner}
	digest, err := Digest(testWallet, chainID, req)
	require.NoError(t, err)

	sign := func(ks ...*ecdsa.PrivateKey) []byte {
		sigs, err := signature.SignAll(digest, ks...)
		require.NoError(t, err)
		return sigs
	}

	tests := []struct {
		name    string
		sigs    []byte
		wantErr bool
	}{
		{"quorum in order", sign(keys[0], keys[1]), false},
		{"quorum skipping a guardian", sign(keys[0], keys[2]), false},
		{"below quorum", sign(keys[1]), true},
		{"out of order", sign(keys[1], keys[0]), true},
		{"outsider", sign(keys[0], outsiders[0]), true},
		{"outsider after a full quorum", sign(keys[0], keys[1], outsiders[0]), true},
		{"no signatures", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(addrs, 2)
			require.NoError(t, err)

			r := req
			r.Signatures = tt.sigs
			err = g.Authorize(testWallet, chainID, r)
			if tt.wantErr {
				assert.ErrorIs(t, err, erc4337.ErrRecoveryQuorumFailure)
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("authorizing leaves the recovery nonce unchanged", func(t *testing.T) {
		g, err := New(addrs, 2)
		require.NoError(t, err)
		r := req
		r.Signatures = sign(keys[0], keys[1])

		require.NoError(t, g.Authorize(testWallet, chainID, r))
		require.NoError(t, g.Authorize(testWallet, chainID, r))
		assert.Equal(t, uint64(0), g.Nonce())
	})

	t.Run("no guardians", func(t *testing.T) {
		g, err := New(nil, 0)
		require.NoError(t, err)
		assert.ErrorIs(t, g.Authorize(testWallet, chainID, req), erc4337.ErrRecoveryQuorumFailure)
	})
}

func TestDigest_Binding(t *testing.T) {
	req := Request{
		PrevOwner: sentinel,
		OldOwner:  common.HexToAddress("0x0a00000000000000000000000000000000000001"),
		NewOwner:  common.HexToAddress("0x0b00000000000000000000000000000000000002"),
	}
	base, err := Digest(testWallet, chainID, req)
	require.NoError(t, err)

	other := req
	other.NewOwner = common.HexToAddress("0x0c00000000000000000000000000000000000003")

	tests := []struct {
		name    string
		wallet  common.Address
		chainID *big.Int
		req     Request
	}{
		{"wallet", common.HexToAddress("0x01"), chainID, req},
		{"chain", testWallet, big.NewInt(1), req},
		{"new owner", testWallet, chainID, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Digest(tt.wallet, tt.chainID, tt.req)
			require.NoError(t, err)
			assert.NotEqual(t, base, d)
		})
	}

	t.Run("signatures are not part of the digest", func(t *testing.T) {
		r := req
		r.Signatures = []byte{1, 2, 3}
		d, err := Digest(testWallet, chainID, r)
		require.NoError(t, err)
		assert.Equal(t, base, d)
	})
}

func TestReconfigure(t *testing.T) {
	_, addrs := generateGuardians(t, 2)
	g, err := New(addrs, 1)
	require.NoError(t, err)

	require.NoError(t, g.Reconfigure(addrs[:1], 1))
	assert.Equal(t, 1, g.Threshold())
	assert.False(t, g.IsGuardian(addrs[1]))

	assert.Error(t, g.Reconfigure(addrs, 5))
	assert.Len(t, g.Members(), 1)
}

func TestClone(t *testing.T) {
	_, addrs := generateGuardians(t, 2)
	g, err := New(addrs, 1)
	require.NoError(t, err)

	cp := g.Clone()
	require.NoError(t, cp.Reconfigure(addrs[:1], 1))

	assert.Len(t, g.Members(), 2)
	assert.Len(t, cp.Members(), 1)
}
