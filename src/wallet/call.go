package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/ledger"
	"github.com/ethaccount/aawallet/src/recovery"
)

var ErrInvalidCallData = errors.New("invalid call data")

// Call dispatches ABI-encoded input. Empty input only receives value.
func (w *Wallet) Call(ctx context.Context, st ledger.State, caller common.Address, value *big.Int, input []byte) ([]byte, error) {
	if len(input) == 0 {
		return nil, nil
	}
	if len(input) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCallData, len(input))
	}

	method, err := walletABI.MethodById(input[:4])
	if err != nil {
		if w.fallbackHandler != (common.Address{}) {
			return st.Call(ctx, w.address, w.fallbackHandler, nil, input)
		}
		return nil, fmt.Errorf("%w: unknown selector %x", ErrInvalidCallData, input[:4])
	}

	args, err := method.Inputs.Unpack(input[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCallData, method.Name, err)
	}

	switch method.Name {
	case "execute":
		if !w.canManage(caller) {
			return nil, fmt.Errorf("%w: execute from %s", erc4337.ErrUnauthorizedCaller, caller.Hex())
		}
		out, err := w.execute(ctx, st, args[0].(common.Address), args[1].(*big.Int), args[2].([]byte))
		if err != nil {
			return out, err
		}
		return method.Outputs.Pack(out)

	case "executeBatch":
		if !w.canManage(caller) {
			return nil, fmt.Errorf("%w: executeBatch from %s", erc4337.ErrUnauthorizedCaller, caller.Hex())
		}
		return nil, w.executeBatch(ctx, st, args[0].([]common.Address), args[1].([]*big.Int), args[2].([][]byte))

	case "setup":
		threshold, err := toCount(args[1].(*big.Int))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", erc4337.ErrInvalidConfig, err)
		}
		guardianThreshold, err := toCount(args[5].(*big.Int))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", erc4337.ErrInvalidConfig, err)
		}
		return nil, w.Setup(st, Config{
			Owners:            args[0].([]common.Address),
			Threshold:         threshold,
			FallbackHandler:   args[2].(common.Address),
			RecoveryModule:    args[3].(common.Address),
			Guardians:         args[4].([]common.Address),
			GuardianThreshold: guardianThreshold,
		})

	case "setupSocialRecovery":
		if !w.canManage(caller) && !w.IsOwner(caller) {
			return nil, fmt.Errorf("%w: setupSocialRecovery from %s", erc4337.ErrUnauthorizedCaller, caller.Hex())
		}
		threshold, err := toCount(args[1].(*big.Int))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", erc4337.ErrInvalidConfig, err)
		}
		return nil, w.setupSocialRecovery(st, args[0].([]common.Address), threshold)

	case "swapOwner":
		if !w.canManage(caller) && (w.recoveryModule == (common.Address{}) || caller != w.recoveryModule) {
			return nil, fmt.Errorf("%w: swapOwner from %s", erc4337.ErrUnauthorizedCaller, caller.Hex())
		}
		return nil, w.swapOwner(st, args[0].(common.Address), args[1].(common.Address), args[2].(common.Address))

	case "changeThreshold":
		if !w.canManage(caller) {
			return nil, fmt.Errorf("%w: changeThreshold from %s", erc4337.ErrUnauthorizedCaller, caller.Hex())
		}
		threshold, err := toCount(args[0].(*big.Int))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", erc4337.ErrInvalidConfig, err)
		}
		return nil, w.changeThreshold(st, threshold)

	case "recoverAccess":
		return nil, w.RecoverAccess(ctx, st, recovery.Request{
			PrevOwner:  args[0].(common.Address),
			OldOwner:   args[1].(common.Address),
			NewOwner:   args[2].(common.Address),
			Signatures: args[3].([]byte),
		})

	case "execTransaction":
		tx := Transaction{
			To:             args[0].(common.Address),
			Value:          args[1].(*big.Int),
			Data:           args[2].([]byte),
			CallGas:        args[3].(*big.Int),
			BaseGas:        args[4].(*big.Int),
			GasPrice:       args[5].(*big.Int),
			GasToken:       args[6].(common.Address),
			RefundReceiver: args[7].(common.Address),
		}
		res, err := w.ExecTransaction(ctx, st, caller, tx, args[8].([]byte))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(res.Success, res.Paid, res.Payment)

	case "getOwners":
		return method.Outputs.Pack(w.Owners())

	case "getThreshold":
		return method.Outputs.Pack(big.NewInt(int64(w.threshold)))

	case "nonce":
		return method.Outputs.Pack(new(big.Int).SetUint64(w.nonce))
	}

	return nil, fmt.Errorf("%w: unhandled method %s", ErrInvalidCallData, method.Name)
}

func (w *Wallet) execute(ctx context.Context, st ledger.State, to common.Address, value *big.Int, data []byte) ([]byte, error) {
	out, err := st.Call(ctx, w.address, to, value, data)
	if err != nil {
		return out, fmt.Errorf("%w: call to %s: %v", erc4337.ErrTargetCallFailure, to.Hex(), err)
	}
	return out, nil
}

// executeBatch runs every call or none of them.
func (w *Wallet) executeBatch(ctx context.Context, st ledger.State, to []common.Address, values []*big.Int, data [][]byte) error {
	if len(to) != len(data) || (len(values) != 0 && len(values) != len(to)) {
		return fmt.Errorf("%w: executeBatch length mismatch", ErrInvalidCallData)
	}
	for i := range to {
		value := new(big.Int)
		if len(values) != 0 {
			value = values[i]
		}
		if _, err := w.execute(ctx, st, to[i], value, data[i]); err != nil {
			return fmt.Errorf("batch call %d: %w", i, err)
		}
	}
	return nil
}
