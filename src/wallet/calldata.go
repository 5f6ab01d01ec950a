package wallet

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethaccount/aawallet/src/recovery"
)

// Call data builders for clients of the wallet.

func EncodeExecute(to common.Address, value *big.Int, data []byte) ([]byte, error) {
	return walletABI.Pack("execute", to, orZero(value), nonNilBytes(data))
}

func EncodeExecuteBatch(to []common.Address, values []*big.Int, data [][]byte) ([]byte, error) {
	if values == nil {
		values = []*big.Int{}
	}
	return walletABI.Pack("executeBatch", to, values, data)
}

func EncodeSetup(cfg Config) ([]byte, error) {
	guardians := cfg.Guardians
	if guardians == nil {
		guardians = []common.Address{}
	}
	return walletABI.Pack("setup",
		cfg.Owners,
		big.NewInt(int64(cfg.Threshold)),
		cfg.FallbackHandler,
		cfg.RecoveryModule,
		guardians,
		big.NewInt(int64(cfg.GuardianThreshold)),
	)
}

func EncodeSetupSocialRecovery(guardians []common.Address, threshold int) ([]byte, error) {
	if guardians == nil {
		guardians = []common.Address{}
	}
	return walletABI.Pack("setupSocialRecovery", guardians, big.NewInt(int64(threshold)))
}

func EncodeSwapOwner(prevOwner, oldOwner, newOwner common.Address) ([]byte, error) {
	return walletABI.Pack("swapOwner", prevOwner, oldOwner, newOwner)
}

func EncodeChangeThreshold(threshold int) ([]byte, error) {
	return walletABI.Pack("changeThreshold", big.NewInt(int64(threshold)))
}

func EncodeRecoverAccess(req recovery.Request) ([]byte, error) {
	return walletABI.Pack("recoverAccess", req.PrevOwner, req.OldOwner, req.NewOwner, nonNilBytes(req.Signatures))
}

func EncodeExecTransaction(tx Transaction, sigs []byte) ([]byte, error) {
	return walletABI.Pack("execTransaction",
		tx.To,
		orZero(tx.Value),
		nonNilBytes(tx.Data),
		orZero(tx.CallGas),
		orZero(tx.BaseGas),
		orZero(tx.GasPrice),
		tx.GasToken,
		tx.RefundReceiver,
		nonNilBytes(sigs),
	)
}

// DecodeExecResult decodes the output of execTransaction.
func DecodeExecResult(out []byte) (ExecResult, error) {
	vals, err := walletABI.Methods["execTransaction"].Outputs.Unpack(out)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to decode execTransaction result: %w", err)
	}
	return ExecResult{
		Success: vals[0].(bool),
		Paid:    vals[1].(bool),
		Payment: vals[2].(*big.Int),
	}, nil
}

// DecodeExecuteResult returns the inner call's return data from execute output.
func DecodeExecuteResult(out []byte) ([]byte, error) {
	vals, err := walletABI.Methods["execute"].Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode execute result: %w", err)
	}
	return vals[0].([]byte), nil
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
