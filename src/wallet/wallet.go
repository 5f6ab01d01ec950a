// Package wallet implements the threshold multisig smart wallet: owner
// authorization of operations, the call dispatcher, relayer refunds and social
// recovery of owners.
package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/fee"
	"github.com/ethaccount/aawallet/src/ledger"
	"github.com/ethaccount/aawallet/src/recovery"
	"github.com/ethaccount/aawallet/src/signature"
)

// SentinelOwner is the predecessor of the first owner.
var SentinelOwner = common.HexToAddress("0x0000000000000000000000000000000000000001")

// Config is the one-time wallet setup.
type Config struct {
	Owners            []common.Address
	Threshold         int
	FallbackHandler   common.Address
	RecoveryModule    common.Address
	Guardians         []common.Address
	GuardianThreshold int
}

// Wallet is a smart wallet living at a ledger address.
type Wallet struct {
	address    common.Address
	entryPoint common.Address
	chainID    *big.Int
	engine     *fee.Engine

	owners          []common.Address
	threshold       int
	nonce           uint64
	guardians       *recovery.Guardians
	fallbackHandler common.Address
	recoveryModule  common.Address
	initialized     bool
}

// New creates an uninitialized wallet at address, trusting entryPoint.
func New(address, entryPoint common.Address, chainID *big.Int, engine *fee.Engine) *Wallet {
	guardians, _ := recovery.New(nil, 0)
	return &Wallet{
		address:    address,
		entryPoint: entryPoint,
		chainID:    new(big.Int).Set(chainID),
		engine:     engine,
		guardians:  guardians,
	}
}

func (w *Wallet) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "wallet").Str("wallet", w.address.Hex()).Logger()
	return &l
}

func (w *Wallet) Address() common.Address { return w.address }
func (w *Wallet) EntryPoint() common.Address { return w.entryPoint }
func (w *Wallet) Threshold() int { return w.threshold }
func (w *Wallet) Nonce() uint64 { return w.nonce }
func (w *Wallet) Initialized() bool { return w.initialized }
func (w *Wallet) FallbackHandler() common.Address { return w.fallbackHandler }
func (w *Wallet) RecoveryModule() common.Address { return w.recoveryModule }

// Owners returns the owners in signing order.
func (w *Wallet) Owners() []common.Address {
	return append([]common.Address(nil), w.owners...)
}

// Guardians returns a copy of the recovery configuration.
func (w *Wallet) Guardians() *recovery.Guardians {
	return w.guardians.Clone()
}

func (w *Wallet) IsOwner(addr common.Address) bool {
	return w.ownerIndex(addr) >= 0
}

func (w *Wallet) ownerIndex(addr common.Address) int {
	for i, o := range w.owners {
		if o == addr {
			return i
		}
	}
	return -1
}

// checkpoint journals the wallet's current storage so a ledger revert restores it.
func (w *Wallet) checkpoint(st ledger.State) {
	owners := append([]common.Address(nil), w.owners...)
	threshold := w.threshold
	nonce := w.nonce
	guardians := w.guardians.Clone()
	fallbackHandler := w.fallbackHandler
	recoveryModule := w.recoveryModule
	initialized := w.initialized

	st.Journal(func() {
		w.owners = owners
		w.threshold = threshold
		w.nonce = nonce
		w.guardians = guardians
		w.fallbackHandler = fallbackHandler
		w.recoveryModule = recoveryModule
		w.initialized = initialized
	})
}

// Setup initializes owners, threshold and guardians. It can run only once.
func (w *Wallet) Setup(st ledger.State, cfg Config) error {
	if w.initialized {
		return erc4337.ErrAlreadyInitialized
	}
	if err := w.validateOwners(cfg.Owners, cfg.Threshold); err != nil {
		return err
	}
	guardians, err := recovery.New(cfg.Guardians, cfg.GuardianThreshold)
	if err != nil {
		return err
	}

	w.checkpoint(st)
	w.owners = append([]common.Address(nil), cfg.Owners...)
	w.threshold = cfg.Threshold
	w.guardians = guardians
	w.fallbackHandler = cfg.FallbackHandler
	w.recoveryModule = cfg.RecoveryModule
	w.initialized = true
	return nil
}

func (w *Wallet) validateOwners(owners []common.Address, threshold int) error {
	if len(owners) == 0 {
		return fmt.Errorf("%w: no owners", erc4337.ErrInvalidConfig)
	}
	if threshold <= 0 || threshold > len(owners) {
		return fmt.Errorf("%w: threshold %d with %d owners", erc4337.ErrInvalidConfig, threshold, len(owners))
	}
	seen := make(map[common.Address]struct{}, len(owners))
	for _, o := range owners {
		if err := w.validateNewOwner(o); err != nil {
			return err
		}
		if _, dup := seen[o]; dup {
			return fmt.Errorf("%w: duplicate owner %s", erc4337.ErrInvalidOwner, o.Hex())
		}
		seen[o] = struct{}{}
	}
	return nil
}

func (w *Wallet) validateNewOwner(o common.Address) error {
	if o == (common.Address{}) || o == SentinelOwner || o == w.address {
		return fmt.Errorf("%w: %s cannot be an owner", erc4337.ErrInvalidOwner, o.Hex())
	}
	return nil
}

// ValidateUserOp checks the nonce and the owners' signatures over the
// eth-signed-message form of opHash, then consumes the nonce. It returns the
// number of signatures checked.
func (w *Wallet) ValidateUserOp(ctx context.Context, st ledger.State, op *erc4337.UserOperation, opHash common.Hash) (int, error) {
	if !w.initialized {
		return 0, erc4337.ErrNotInitialized
	}
	if op.GetNonce().Cmp(new(big.Int).SetUint64(w.nonce)) != 0 {
		return 0, fmt.Errorf("%w: wallet nonce %d, operation nonce %s", erc4337.ErrNonceMismatch, w.nonce, op.GetNonce())
	}

	n, err := signature.Verify(signature.EthSignedHash(opHash), op.Signature, w.owners, w.threshold)
	if err != nil {
		return 0, err
	}

	w.checkpoint(st)
	w.nonce++

	w.logger(ctx).Debug().Uint64("nonce", w.nonce-1).Str("opHash", opHash.Hex()).Msg("user operation validated")
	return n, nil
}

// PayRelayer pays q from the wallet's own balance to relayer.
func (w *Wallet) PayRelayer(ctx context.Context, st ledger.State, q fee.Quote, relayer common.Address) (*big.Int, error) {
	return w.engine.Charge(ctx, st, w.address, relayer, q)
}

// swapOwner replaces oldOwner with newOwner in place. prevOwner must be the owner
// right before oldOwner, or SentinelOwner when oldOwner is first.
func (w *Wallet) swapOwner(st ledger.State, prevOwner, oldOwner, newOwner common.Address) error {
	if err := w.validateNewOwner(newOwner); err != nil {
		return err
	}
	if w.IsOwner(newOwner) {
		return fmt.Errorf("%w: %s is already an owner", erc4337.ErrInvalidOwner, newOwner.Hex())
	}
	i := w.ownerIndex(oldOwner)
	if i < 0 {
		return fmt.Errorf("%w: %s is not an owner", erc4337.ErrInvalidOwner, oldOwner.Hex())
	}
	expectedPrev := SentinelOwner
	if i > 0 {
		expectedPrev = w.owners[i-1]
	}
	if prevOwner != expectedPrev {
		return fmt.Errorf("%w: %s does not point to %s", erc4337.ErrInvalidOwner, prevOwner.Hex(), oldOwner.Hex())
	}

	w.checkpoint(st)
	w.owners = append([]common.Address(nil), w.owners...)
	w.owners[i] = newOwner
	return nil
}

func (w *Wallet) changeThreshold(st ledger.State, threshold int) error {
	if threshold <= 0 || threshold > len(w.owners) {
		return fmt.Errorf("%w: threshold %d with %d owners", erc4337.ErrInvalidConfig, threshold, len(w.owners))
	}
	w.checkpoint(st)
	w.threshold = threshold
	return nil
}

func (w *Wallet) setupSocialRecovery(st ledger.State, guardians []common.Address, threshold int) error {
	next := w.guardians.Clone()
	if err := next.Reconfigure(guardians, threshold); err != nil {
		return err
	}
	w.checkpoint(st)
	w.guardians = next
	return nil
}

// RecoverAccess replaces an owner on the strength of a guardian quorum. Nothing
// changes unless both the quorum and the owner pointers check out.
func (w *Wallet) RecoverAccess(ctx context.Context, st ledger.State, req recovery.Request) error {
	if !w.initialized {
		return erc4337.ErrNotInitialized
	}
	if err := w.guardians.Authorize(w.address, w.chainID, req); err != nil {
		return err
	}
	if err := w.swapOwner(st, req.PrevOwner, req.OldOwner, req.NewOwner); err != nil {
		return err
	}

	w.logger(ctx).Info().
		Str("oldOwner", req.OldOwner.Hex()).
		Str("newOwner", req.NewOwner.Hex()).
		Msg("owner replaced by guardians")
	return nil
}

// canManage reports whether caller may change wallet configuration.
func (w *Wallet) canManage(caller common.Address) bool {
	return caller == w.address || caller == w.entryPoint
}
