package signature

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethaccount/aawallet/erc4337"
)

func generateKeys(t *testing.T, n int) ([]*ecdsa.PrivateKey, []common.Address) {
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

func TestVerify(t *testing.T) {
	keys, owners := generateKeys(t, 3)
	outsiders, _ := generateKeys(t, 1)
	digest := crypto.Keccak256Hash([]byte("operation"))

	sign := func(ks ...*ecdsa.PrivateKey) []byte {
		sigs, err := SignAll(digest, ks...)
		require.NoError(t, err)
		return sigs
	}

	tests := []struct {
		name      string
		sigs      []byte
		threshold int
		wantErr   bool
	}{
		{"single owner threshold 1", sign(keys[0]), 1, false},
		{"any owner threshold 1", sign(keys[2]), 1, false},
		{"ordered pair threshold 2", sign(keys[0], keys[2]), 2, false},
		{"all owners threshold 3", sign(keys[0], keys[1], keys[2]), 3, false},
		{"more owners than threshold", sign(keys[0], keys[1], keys[2]), 2, false},
		{"trailing outsider", append(sign(keys[0], keys[1]), sign(outsiders[0])...), 2, true},
		{"trailing zero chunk", append(sign(keys[0], keys[1]), make([]byte, Length)...), 2, true},
		{"trailing duplicate", sign(keys[0], keys[1], keys[1]), 2, true},
		{"one short of threshold", sign(keys[0]), 2, true},
		{"reversed order", sign(keys[2], keys[0]), 2, true},
		{"duplicated signer", sign(keys[1], keys[1]), 2, true},
		{"outsider", sign(outsiders[0]), 1, true},
		{"outsider among owners", sign(keys[0], outsiders[0]), 2, true},
		{"empty", nil, 1, true},
		{"truncated", sign(keys[0])[:64], 1, true},
		{"zero threshold fails closed", sign(keys[0]), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Verify(digest, tt.sigs, owners, tt.threshold)
			if tt.wantErr {
				assert.ErrorIs(t, err, erc4337.ErrAuthFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(tt.sigs)/Length, n)
		})
	}
}

func TestVerify_WrongDigest(t *testing.T) {
	keys, owners := generateKeys(t, 1)
	sigs, err := SignAll(crypto.Keccak256Hash([]byte("a")), keys...)
	require.NoError(t, err)

	_, err = Verify(crypto.Keccak256Hash([]byte("b")), sigs, owners, 1)
	assert.ErrorIs(t, err, erc4337.ErrAuthFailure)
}

func TestRecover_RecoveryID(t *testing.T) {
	keys, owners := generateKeys(t, 1)
	digest := crypto.Keccak256Hash([]byte("v"))

	raw, err := crypto.Sign(digest[:], keys[0])
	require.NoError(t, err)

	tests := []struct {
		name    string
		v       byte
		wantErr bool
	}{
		{"raw", raw[64], false},
		{"offset by 27", raw[64] + 27, false},
		{"invalid", 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := common.CopyBytes(raw)
			sig[64] = tt.v
			signer, err := Recover(digest, sig)
			if tt.wantErr {
				assert.ErrorIs(t, err, erc4337.ErrAuthFailure)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, owners[0], signer)
		})
	}
}

func TestEthSignedHash(t *testing.T) {
	hash := crypto.Keccak256Hash([]byte("op"))
	prefixed := crypto.Keccak256Hash(append([]byte("\x19Ethereum Signed Message:\n32"), hash[:]...))

	assert.Equal(t, prefixed, EthSignedHash(hash))
}

func TestSplit(t *testing.T) {
	chunks, err := Split(make([]byte, 2*Length))
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	_, err = Split(make([]byte, Length+1))
	assert.ErrorIs(t, err, erc4337.ErrAuthFailure)
}
