// Package recovery holds a wallet's guardian configuration and checks guardian
// quorums for owner replacement.
package recovery

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/signature"
)

const (
	DomainName    = "SocialRecovery"
	DomainVersion = "1"
)

// Request asks to replace OldOwner with NewOwner. PrevOwner is the owner listed
// just before OldOwner, or the sentinel address when OldOwner is first.
type Request struct {
	PrevOwner  common.Address
	OldOwner   common.Address
	NewOwner   common.Address
	Signatures []byte
}

// Guardians is the social recovery configuration of one wallet. Applying a
// recovery leaves the recovery nonce unchanged.
type Guardians struct {
	members   []common.Address
	threshold int
	nonce     uint64
}

// New validates and builds a guardian set. An empty set requires a zero threshold
// and disables recovery.
func New(members []common.Address, threshold int) (*Guardians, error) {
	if threshold < 0 || threshold > len(members) {
		return nil, fmt.Errorf("%w: guardian threshold %d with %d guardians", erc4337.ErrInvalidConfig, threshold, len(members))
	}
	if len(members) > 0 && threshold == 0 {
		return nil, fmt.Errorf("%w: guardian threshold must be positive", erc4337.ErrInvalidConfig)
	}

	seen := make(map[common.Address]struct{}, len(members))
	for _, m := range members {
		if m == (common.Address{}) {
			return nil, fmt.Errorf("%w: zero guardian", erc4337.ErrInvalidConfig)
		}
		if _, dup := seen[m]; dup {
			return nil, fmt.Errorf("%w: duplicate guardian %s", erc4337.ErrInvalidConfig, m.Hex())
		}
		seen[m] = struct{}{}
	}

	return &Guardians{
		members:   append([]common.Address(nil), members...),
		threshold: threshold,
	}, nil
}

// Reconfigure replaces members and threshold, keeping the recovery nonce.
func (g *Guardians) Reconfigure(members []common.Address, threshold int) error {
	next, err := New(members, threshold)
	if err != nil {
		return err
	}
	g.members = next.members
	g.threshold = next.threshold
	return nil
}

func (g *Guardians) Members() []common.Address {
	return append([]common.Address(nil), g.members...)
}

func (g *Guardians) Threshold() int { return g.threshold }

func (g *Guardians) Nonce() uint64 { return g.nonce }

func (g *Guardians) IsGuardian(addr common.Address) bool {
	for _, m := range g.members {
		if m == addr {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (g *Guardians) Clone() *Guardians {
	return &Guardians{
		members:   append([]common.Address(nil), g.members...),
		threshold: g.threshold,
		nonce:     g.nonce,
	}
}

// Digest is the EIP-712 hash guardians sign to approve req for wallet. It
// covers the owner pointers only, bound to wallet and chain by the domain.
func Digest(wallet common.Address, chainID *big.Int, req Request) (common.Hash, error) {
	if chainID == nil {
		return common.Hash{}, fmt.Errorf("chain id is required")
	}
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"RecoverAccess": {
				{Name: "prevOwner", Type: "address"},
				{Name: "oldOwner", Type: "address"},
				{Name: "newOwner", Type: "address"},
			},
		},
		PrimaryType: "RecoverAccess",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: wallet.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"prevOwner": req.PrevOwner.Hex(),
			"oldOwner":  req.OldOwner.Hex(),
			"newOwner":  req.NewOwner.Hex(),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash recovery request: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// Authorize checks that req carries a guardian quorum for wallet.
func (g *Guardians) Authorize(wallet common.Address, chainID *big.Int, req Request) error {
	if len(g.members) == 0 {
		return fmt.Errorf("%w: no guardians configured", erc4337.ErrRecoveryQuorumFailure)
	}
	digest, err := Digest(wallet, chainID, req)
	if err != nil {
		return err
	}
	if _, err := signature.Verify(digest, req.Signatures, g.members, g.threshold); err != nil {
		return fmt.Errorf("%w: %v", erc4337.ErrRecoveryQuorumFailure, err)
	}
	return nil
}

