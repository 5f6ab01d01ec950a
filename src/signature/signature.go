// Package signature verifies ordered threshold ECDSA signatures.
//
// A signature blob is a concatenation of 65-byte r||s||v chunks. Each chunk must
// recover to a distinct expected signer, and signers must appear in the same order
// as in the expected list.
package signature

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ethaccount/aawallet/erc4337"
)

// Length is the size of a single r||s||v signature.
const Length = crypto.SignatureLength

// EthSignedHash is the eth-signed-message hash of a 32-byte digest, the form
// owners and sponsors sign operation hashes in.
func EthSignedHash(hash common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(hash[:]))
}

// Split cuts a signature blob into 65-byte chunks.
func Split(sigs []byte) ([][]byte, error) {
	if len(sigs) == 0 || len(sigs)%Length != 0 {
		return nil, fmt.Errorf("%w: signature length %d is not a multiple of %d", erc4337.ErrAuthFailure, len(sigs), Length)
	}
	chunks := make([][]byte, 0, len(sigs)/Length)
	for i := 0; i < len(sigs); i += Length {
		chunks = append(chunks, sigs[i:i+Length])
	}
	return chunks, nil
}

// Recover returns the signer of digest. v may be 0/1 or 27/28.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != Length {
		return common.Address{}, fmt.Errorf("%w: signature must be %d bytes", erc4337.ErrAuthFailure, Length)
	}
	normalized := make([]byte, Length)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return common.Address{}, fmt.Errorf("%w: invalid recovery id %d", erc4337.ErrAuthFailure, sig[64])
	}

	pub, err := crypto.SigToPub(digest[:], normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", erc4337.ErrAuthFailure, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that sigs carries at least threshold signatures over digest.
// Every chunk must come from a distinct member of expected, in strictly
// increasing index order. It returns the number of signatures checked.
func Verify(digest common.Hash, sigs []byte, expected []common.Address, threshold int) (int, error) {
	if threshold <= 0 {
		return 0, fmt.Errorf("%w: threshold must be positive", erc4337.ErrAuthFailure)
	}

	chunks, err := Split(sigs)
	if err != nil {
		return 0, err
	}
	if len(chunks) < threshold {
		return 0, fmt.Errorf("%w: got %d signatures, need %d", erc4337.ErrAuthFailure, len(chunks), threshold)
	}

	index := make(map[common.Address]int, len(expected))
	for i, addr := range expected {
		index[addr] = i
	}

	last := -1
	for _, chunk := range chunks {
		signer, err := Recover(digest, chunk)
		if err != nil {
			return 0, err
		}
		i, ok := index[signer]
		if !ok {
			return 0, fmt.Errorf("%w: %s is not a signer", erc4337.ErrAuthFailure, signer.Hex())
		}
		if i <= last {
			return 0, fmt.Errorf("%w: signers out of order or duplicated at %s", erc4337.ErrAuthFailure, signer.Hex())
		}
		last = i
	}
	return len(chunks), nil
}

// Sign signs digest with key and returns r||s||v with v in {27, 28}.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// SignAll signs digest with every key, in the given order, and concatenates the results.
func SignAll(digest common.Hash, keys ...*ecdsa.PrivateKey) ([]byte, error) {
	out := make([]byte, 0, len(keys)*Length)
	for _, key := range keys {
		sig, err := Sign(digest, key)
		if err != nil {
			return nil, err
		}
		out = append(out, sig...)
	}
	return out, nil
}
