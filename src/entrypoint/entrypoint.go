// Package entrypoint drives batches of user operations through validation,
// execution and settlement against a ledger.
package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/fee"
	"github.com/ethaccount/aawallet/src/ledger"
	"github.com/ethaccount/aawallet/src/paymaster"
)

var (
	ErrInvalidOperation   = errors.New("invalid user operation")
	ErrInvalidBeneficiary = errors.New("invalid beneficiary")
	ErrNotAccount         = errors.New("sender is not a smart account")
)

// Account is the wallet side of an operation.
type Account interface {
	ValidateUserOp(ctx context.Context, st ledger.State, op *erc4337.UserOperation, opHash common.Hash) (int, error)
	PayRelayer(ctx context.Context, st ledger.State, q fee.Quote, relayer common.Address) (*big.Int, error)
}

// Paymaster guarantees payment for operations that name it.
type Paymaster interface {
	Address() common.Address
	Validate(ctx context.Context, st ledger.State, op *erc4337.UserOperation, opHash common.Hash, maxCost *big.Int) (paymaster.Context, error)
	PostOp(ctx context.Context, st ledger.State, mode paymaster.PostOpMode, pctx paymaster.Context, actualCost *big.Int, collector common.Address) error
}

type Config struct {
	Address common.Address
	ChainID *big.Int
	BaseFee *big.Int
}

// EntryPoint is the only way operations reach wallets. It holds no state of its
// own besides the registered paymasters and the batch lock; fees collected while
// a batch runs sit at its address until the batch ends.
type EntryPoint struct {
	address common.Address
	chainID *big.Int
	baseFee *big.Int

	st         ledger.State
	engine     *fee.Engine
	paymasters map[common.Address]Paymaster

	locked bool
}

func New(cfg Config, st ledger.State, engine *fee.Engine) (*EntryPoint, error) {
	if cfg.Address == (common.Address{}) {
		return nil, errors.New("entry point address is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	baseFee := new(big.Int)
	if cfg.BaseFee != nil {
		baseFee.Set(cfg.BaseFee)
	}
	return &EntryPoint{
		address:    cfg.Address,
		chainID:    new(big.Int).Set(cfg.ChainID),
		baseFee:    baseFee,
		st:         st,
		engine:     engine,
		paymasters: make(map[common.Address]Paymaster),
	}, nil
}

func (ep *EntryPoint) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "entrypoint").Logger()
	return &l
}

func (ep *EntryPoint) Address() common.Address { return ep.address }

func (ep *EntryPoint) ChainID() *big.Int { return new(big.Int).Set(ep.chainID) }

func (ep *EntryPoint) BaseFee() *big.Int { return new(big.Int).Set(ep.baseFee) }

// RegisterPaymaster makes p available to operations naming its address.
func (ep *EntryPoint) RegisterPaymaster(p Paymaster) error {
	if _, ok := ep.paymasters[p.Address()]; ok {
		return fmt.Errorf("paymaster %s already registered", p.Address().Hex())
	}
	ep.paymasters[p.Address()] = p
	return nil
}

func (ep *EntryPoint) Paymaster(addr common.Address) (Paymaster, bool) {
	p, ok := ep.paymasters[addr]
	return p, ok
}

// GetSenderAddress is the counterfactual address of the account initCode deploys.
func (ep *EntryPoint) GetSenderAddress(initCode []byte) common.Address {
	return erc4337.SenderAddress(ep.address, initCode)
}

func (ep *EntryPoint) UserOpHash(op *erc4337.UserOperation) (common.Hash, error) {
	return op.UserOpHash(ep.address, ep.chainID)
}

// HandleOps runs ops in order and pays the fees they collected to beneficiary
// in a single transfer. One operation failing never affects the others; the
// returned error is only for problems with the batch itself.
func (ep *EntryPoint) HandleOps(ctx context.Context, ops []*erc4337.UserOperation, beneficiary common.Address) ([]*erc4337.Receipt, error) {
	if ep.locked {
		return nil, erc4337.ErrReentrancy
	}
	if beneficiary == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero address", ErrInvalidBeneficiary)
	}
	ep.locked = true
	defer func() { ep.locked = false }()

	collected := new(big.Int)
	receipts := make([]*erc4337.Receipt, 0, len(ops))
	for i, op := range ops {
		r := ep.handleOp(ctx, op)
		collected.Add(collected, r.Cost())
		receipts = append(receipts, r)

		ep.logger(ctx).Info().
			Int("index", i).
			Str("userOpHash", r.OpHash.Hex()).
			Str("sender", r.Sender.Hex()).
			Str("status", string(r.Status)).
			Str("failure", string(r.Failure)).
			Msg("user operation handled")
	}

	if collected.Sign() > 0 {
		if err := ep.st.Transfer(ep.address, beneficiary, collected); err != nil {
			return receipts, fmt.Errorf("failed to pay beneficiary %s: %w", beneficiary.Hex(), err)
		}
	}

	ep.logger(ctx).Info().
		Int("ops", len(ops)).
		Str("beneficiary", beneficiary.Hex()).
		Str("collected", collected.String()).
		Msg("batch handled")
	return receipts, nil
}

// verified is what validation hands to execution and settlement.
type verified struct {
	account         Account
	paymaster       Paymaster
	pctx            paymaster.Context
	verificationGas *big.Int
	maxCost         *big.Int
}

// ValidationResult is what SimulateValidation reports for a valid operation.
type ValidationResult struct {
	OpHash          common.Hash    `json:"userOpHash"`
	VerificationGas *hexutil.Big   `json:"verificationGas"`
	MaxCost         *hexutil.Big   `json:"maxCost"`
	Paymaster       common.Address `json:"paymaster"`
}

// SimulateValidation runs the validation phase of op and rolls it back.
func (ep *EntryPoint) SimulateValidation(ctx context.Context, op *erc4337.UserOperation) (*ValidationResult, error) {
	if ep.locked {
		return nil, erc4337.ErrReentrancy
	}
	if op == nil {
		return nil, fmt.Errorf("%w: nil operation", ErrInvalidOperation)
	}
	opHash, err := ep.UserOpHash(op)
	if err != nil {
		return nil, err
	}

	snap := ep.st.Snapshot()
	defer ep.st.RevertToSnapshot(snap)

	v, err := ep.validate(ctx, op, opHash)
	if err != nil {
		return nil, err
	}
	return &ValidationResult{
		OpHash:          opHash,
		VerificationGas: (*hexutil.Big)(v.verificationGas),
		MaxCost:         (*hexutil.Big)(v.maxCost),
		Paymaster:       op.PaymasterAddress(),
	}, nil
}

func (ep *EntryPoint) validate(ctx context.Context, op *erc4337.UserOperation, opHash common.Hash) (*verified, error) {
	if op.Sender == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero sender", ErrInvalidOperation)
	}
	for _, f := range []struct {
		name string
		v    *big.Int
	}{
		{"nonce", op.GetNonce()},
		{"callGasLimit", op.GetCallGasLimit()},
		{"verificationGasLimit", op.GetVerificationGasLimit()},
		{"preVerificationGas", op.GetPreVerificationGas()},
		{"maxFeePerGas", op.GetMaxFeePerGas()},
		{"maxPriorityFeePerGas", op.GetMaxPriorityFeePerGas()},
	} {
		if f.v.Sign() < 0 {
			return nil, fmt.Errorf("%w: negative %s", ErrInvalidOperation, f.name)
		}
	}

	if len(op.InitCode) > 0 {
		if expected := ep.GetSenderAddress(op.InitCode); expected != op.Sender {
			return nil, fmt.Errorf("%w: init code deploys %s, sender is %s", erc4337.ErrSenderMismatch, expected.Hex(), op.Sender.Hex())
		}
		if _, ok := ep.st.Contract(op.Sender); !ok {
			if _, err := ep.st.DeployAt(ctx, op.Sender, op.InitCode); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
			}
		}
	}

	c, ok := ep.st.Contract(op.Sender)
	if !ok {
		return nil, fmt.Errorf("%w: %w: nothing deployed at %s", erc4337.ErrNotInitialized, ErrNotAccount, op.Sender.Hex())
	}
	account, ok := c.(Account)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", erc4337.ErrNotInitialized, ErrNotAccount, op.Sender.Hex())
	}

	signatures, err := account.ValidateUserOp(ctx, ep.st, op, opHash)
	if err != nil {
		return nil, err
	}

	v := &verified{
		account:         account,
		verificationGas: fee.ValidationGas(signatures, op.HasPaymaster(), op.InitCode),
		maxCost:         op.MaxCost(),
	}
	if limit := op.GetVerificationGasLimit(); v.verificationGas.Cmp(limit) > 0 {
		return nil, fmt.Errorf("%w: verification needs %s gas, limit %s", erc4337.ErrGasLimit, v.verificationGas, limit)
	}

	if !op.HasPaymaster() {
		if bal := ep.st.Balance(op.Sender); bal.Cmp(v.maxCost) < 0 {
			return nil, fmt.Errorf("%w: wallet balance %s below max cost %s", erc4337.ErrInsufficientFunds, bal, v.maxCost)
		}
		return v, nil
	}

	pm, ok := ep.paymasters[op.PaymasterAddress()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", erc4337.ErrUnknownSponsor, op.PaymasterAddress().Hex())
	}
	pctx, err := pm.Validate(ctx, ep.st, op, opHash, v.maxCost)
	if err != nil {
		return nil, fmt.Errorf("paymaster %s: %w", pm.Address().Hex(), err)
	}
	v.paymaster = pm
	v.pctx = pctx
	return v, nil
}

// handleOp runs a single operation and reports what happened to it. Validation
// failures leave no trace. A failed call keeps the nonce and the fee. A failed
// settlement keeps only the nonce.
func (ep *EntryPoint) handleOp(ctx context.Context, op *erc4337.UserOperation) *erc4337.Receipt {
	r := &erc4337.Receipt{
		Status:        erc4337.StatusRejected,
		ActualGasUsed: (*hexutil.Big)(new(big.Int)),
		ActualGasCost: (*hexutil.Big)(new(big.Int)),
	}
	if op == nil {
		return fail(r, erc4337.StatusRejected, fmt.Errorf("%w: nil operation", ErrInvalidOperation))
	}
	r.Sender = op.Sender
	r.Paymaster = op.PaymasterAddress()
	r.Nonce = (*hexutil.Big)(op.GetNonce())

	opHash, err := ep.UserOpHash(op)
	if err != nil {
		return fail(r, erc4337.StatusRejected, err)
	}
	r.OpHash = opHash

	snap := ep.st.Snapshot()
	v, err := ep.validate(ctx, op, opHash)
	if err != nil {
		ep.st.RevertToSnapshot(snap)
		return fail(r, erc4337.StatusRejected, err)
	}

	execSnap := ep.st.Snapshot()
	callGas, callErr := ep.execute(ctx, op, r)

	gasUsed := new(big.Int).Add(op.GetPreVerificationGas(), v.verificationGas)
	gasUsed.Add(gasUsed, callGas)
	gasPrice := fee.EffectiveGasPrice(op.GetMaxFeePerGas(), op.GetMaxPriorityFeePerGas(), ep.baseFee)
	cost := new(big.Int).Mul(gasUsed, gasPrice)
	r.ActualGasUsed = (*hexutil.Big)(gasUsed)
	r.ActualGasCost = (*hexutil.Big)(cost)

	callReverted, err := ep.settle(ctx, op, v, callErr == nil, gasUsed, gasPrice, execSnap)
	if err != nil {
		ep.st.RevertToSnapshot(execSnap)
		r.ReturnData = nil
		return fail(r, erc4337.StatusSettlementFailed, err)
	}
	if callReverted && callErr == nil {
		callErr = errors.New("call effects rolled back after paymaster postOp failed")
		r.ReturnData = nil
	}
	if callErr != nil {
		return fail(r, erc4337.StatusCallFailed, callErr)
	}

	r.Status = erc4337.StatusSucceeded
	r.Success = true
	return r
}

// execute runs the call payload as the entry point calling the wallet and
// returns the call gas used.
func (ep *EntryPoint) execute(ctx context.Context, op *erc4337.UserOperation, r *erc4337.Receipt) (*big.Int, error) {
	callGas := fee.CallGas(op.CallData)
	if limit := op.GetCallGasLimit(); callGas.Cmp(limit) > 0 {
		return limit, fmt.Errorf("%w: call needs %s gas, limit %s", erc4337.ErrGasLimit, callGas, limit)
	}
	if len(op.CallData) == 0 {
		return callGas, nil
	}
	out, err := ep.st.Call(ctx, ep.address, op.Sender, nil, op.CallData)
	r.ReturnData = out
	return callGas, err
}

// settle collects the fee at the entry point's address. When a paymaster's
// first postOp fails its effects and the call's are rolled back and postOp runs
// again in PostOpReverted mode; callReverted reports that case.
func (ep *EntryPoint) settle(ctx context.Context, op *erc4337.UserOperation, v *verified, callOK bool, gasUsed, gasPrice *big.Int, execSnap int) (callReverted bool, err error) {
	if v.paymaster == nil {
		q, err := ep.engine.Quote(ctx, gasUsed, gasPrice, common.Address{})
		if err != nil {
			return false, err
		}
		_, err = v.account.PayRelayer(ctx, ep.st, q, ep.address)
		return false, err
	}

	cost := new(big.Int).Mul(gasUsed, gasPrice)
	mode := paymaster.OpSucceeded
	if !callOK {
		mode = paymaster.OpReverted
	}
	err = v.paymaster.PostOp(ctx, ep.st, mode, v.pctx, cost, ep.address)
	if err == nil {
		return false, nil
	}

	ep.logger(ctx).Warn().Err(err).
		Str("paymaster", v.paymaster.Address().Hex()).
		Str("mode", mode.String()).
		Msg("postOp failed, retrying after rolling back the call")

	ep.st.RevertToSnapshot(execSnap)
	if err := v.paymaster.PostOp(ctx, ep.st, paymaster.PostOpReverted, v.pctx, cost, ep.address); err != nil {
		return true, fmt.Errorf("paymaster %s postOp: %w", v.paymaster.Address().Hex(), err)
	}
	return true, nil
}

func fail(r *erc4337.Receipt, status erc4337.OpStatus, err error) *erc4337.Receipt {
	r.Status = status
	r.Success = false
	r.Failure = erc4337.Classify(err)
	r.RevertReason = err.Error()
	return r
}
