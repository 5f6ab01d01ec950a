// Package ledger provides the state substrate wallets, paymasters and the entry
// point operate on: native balances, token balances, deployed contracts and a
// journal for snapshot/revert.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyDeployed     = errors.New("contract already deployed")
	ErrNoDeployer          = errors.New("no deployer configured")
	ErrNegativeAmount      = errors.New("negative amount")
	ErrInvalidSnapshot     = errors.New("invalid snapshot")
)

// Contract is code living at a ledger address.
type Contract interface {
	// Call runs input sent by caller. The value has already been credited.
	Call(ctx context.Context, st State, caller common.Address, value *big.Int, input []byte) ([]byte, error)
}

// Deployer instantiates contracts from init code.
type Deployer interface {
	Deploy(ctx context.Context, st State, addr common.Address, initCode []byte) (Contract, error)
}

// State is the explicit state handle passed to every component.
type State interface {
	Balance(addr common.Address) *big.Int
	Transfer(from, to common.Address, amount *big.Int) error
	Mint(to common.Address, amount *big.Int)

	TokenBalance(token, holder common.Address) *big.Int
	TransferToken(token, from, to common.Address, amount *big.Int) error
	MintToken(token, to common.Address, amount *big.Int)

	Contract(addr common.Address) (Contract, bool)
	Install(addr common.Address, c Contract) error
	DeployAt(ctx context.Context, addr common.Address, initCode []byte) (Contract, error)
	Call(ctx context.Context, caller, to common.Address, value *big.Int, input []byte) ([]byte, error)

	Snapshot() int
	RevertToSnapshot(id int)
	Journal(undo func())
}

type tokenKey struct {
	token  common.Address
	holder common.Address
}

// Ledger is an in-memory State. It is not safe for concurrent use; callers
// serialize access.
type Ledger struct {
	balances  map[common.Address]*big.Int
	tokens    map[tokenKey]*big.Int
	contracts map[common.Address]Contract
	deployer  Deployer

	journal []func()
}

// New creates an empty ledger. deployer may be nil when nothing is deployed from init code.
func New(deployer Deployer) *Ledger {
	return &Ledger{
		balances:  make(map[common.Address]*big.Int),
		tokens:    make(map[tokenKey]*big.Int),
		contracts: make(map[common.Address]Contract),
		deployer:  deployer,
	}
}

// SetDeployer replaces the deployer used by DeployAt.
func (l *Ledger) SetDeployer(d Deployer) {
	l.deployer = d
}

func (l *Ledger) Balance(addr common.Address) *big.Int {
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) setBalance(addr common.Address, amount *big.Int) {
	prev, existed := l.balances[addr]
	l.balances[addr] = amount
	l.Journal(func() {
		if existed {
			l.balances[addr] = prev
		} else {
			delete(l.balances, addr)
		}
	})
}

func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	fromBal := l.Balance(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	if from == to {
		return nil
	}
	l.setBalance(from, fromBal.Sub(fromBal, amount))
	toBal := l.Balance(to)
	l.setBalance(to, toBal.Add(toBal, amount))
	return nil
}

// Mint credits native funds out of thin air. Used to fund accounts in tests and the dev node.
func (l *Ledger) Mint(to common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	bal := l.Balance(to)
	l.setBalance(to, bal.Add(bal, amount))
}

func (l *Ledger) TokenBalance(token, holder common.Address) *big.Int {
	if b, ok := l.tokens[tokenKey{token, holder}]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) setTokenBalance(key tokenKey, amount *big.Int) {
	prev, existed := l.tokens[key]
	l.tokens[key] = amount
	l.Journal(func() {
		if existed {
			l.tokens[key] = prev
		} else {
			delete(l.tokens, key)
		}
	})
}

func (l *Ledger) TransferToken(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	fromBal := l.TokenBalance(token, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of token %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, token.Hex(), amount)
	}
	if from == to {
		return nil
	}
	l.setTokenBalance(tokenKey{token, from}, fromBal.Sub(fromBal, amount))
	toBal := l.TokenBalance(token, to)
	l.setTokenBalance(tokenKey{token, to}, toBal.Add(toBal, amount))
	return nil
}

func (l *Ledger) MintToken(token, to common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	bal := l.TokenBalance(token, to)
	l.setTokenBalance(tokenKey{token, to}, bal.Add(bal, amount))
}

func (l *Ledger) Contract(addr common.Address) (Contract, bool) {
	c, ok := l.contracts[addr]
	return c, ok
}

// Install places an already constructed contract at addr.
func (l *Ledger) Install(addr common.Address, c Contract) error {
	if _, ok := l.contracts[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, addr.Hex())
	}
	l.contracts[addr] = c
	l.Journal(func() { delete(l.contracts, addr) })
	return nil
}

// DeployAt instantiates initCode at addr through the configured deployer.
func (l *Ledger) DeployAt(ctx context.Context, addr common.Address, initCode []byte) (Contract, error) {
	if _, ok := l.contracts[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDeployed, addr.Hex())
	}
	if l.deployer == nil {
		return nil, ErrNoDeployer
	}

	snap := l.Snapshot()
	c, err := l.deployer.Deploy(ctx, l, addr, initCode)
	if err != nil {
		l.RevertToSnapshot(snap)
		return nil, fmt.Errorf("failed to deploy %s: %w", addr.Hex(), err)
	}
	if err := l.Install(addr, c); err != nil {
		l.RevertToSnapshot(snap)
		return nil, err
	}
	return c, nil
}

// Call moves value from caller to to and runs the contract at to, if any.
// A failed call leaves no trace in the ledger.
func (l *Ledger) Call(ctx context.Context, caller, to common.Address, value *big.Int, input []byte) ([]byte, error) {
	snap := l.Snapshot()
	if err := l.Transfer(caller, to, value); err != nil {
		return nil, err
	}

	c, ok := l.contracts[to]
	if !ok {
		// plain account: accepts value, ignores input
		return nil, nil
	}

	if value == nil {
		value = new(big.Int)
	}
	out, err := c.Call(ctx, l, caller, value, input)
	if err != nil {
		l.RevertToSnapshot(snap)
		return out, err
	}
	return out, nil
}

// Snapshot returns an identifier for the current state.
func (l *Ledger) Snapshot() int {
	return len(l.journal)
}

// RevertToSnapshot undoes every change made since the snapshot was taken.
func (l *Ledger) RevertToSnapshot(id int) {
	if id < 0 || id > len(l.journal) {
		panic(fmt.Errorf("%w: %d (journal length %d)", ErrInvalidSnapshot, id, len(l.journal)))
	}
	for i := len(l.journal) - 1; i >= id; i-- {
		l.journal[i]()
	}
	l.journal = l.journal[:id]
}

// Journal records an undo step for a mutation made outside the ledger's own maps,
// such as contract storage.
func (l *Ledger) Journal(undo func()) {
	l.journal = append(l.journal, undo)
}

// Commit drops the journal. Snapshots taken before Commit become invalid.
func (l *Ledger) Commit() {
	l.journal = nil
}
