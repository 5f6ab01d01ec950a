package wallet

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/fee"
	"github.com/ethaccount/aawallet/src/ledger"
	"github.com/ethaccount/aawallet/src/signature"
)

const (
	DomainName    = "AAWallet"
	DomainVersion = "1"
)

// Transaction is an owner-signed call submitted straight to the wallet by a
// relayer, who is refunded from the wallet when GasPrice is set.
type Transaction struct {
	To             common.Address
	Value          *big.Int
	Data           []byte
	CallGas        *big.Int
	BaseGas        *big.Int
	GasPrice       *big.Int
	GasToken       common.Address
	RefundReceiver common.Address
}

// ExecResult reports the outcome of ExecTransaction.
type ExecResult struct {
	Success bool
	Paid    bool
	Payment *big.Int
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// TransactionHash is the EIP-712 digest owners sign for tx at nonce.
func TransactionHash(walletAddr common.Address, chainID *big.Int, tx Transaction, nonce uint64) (common.Hash, error) {
	typed := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"WalletTx": {
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "data", Type: "bytes"},
				{Name: "callGas", Type: "uint256"},
				{Name: "baseGas", Type: "uint256"},
				{Name: "gasPrice", Type: "uint256"},
				{Name: "gasToken", Type: "address"},
				{Name: "refundReceiver", Type: "address"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "WalletTx",
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: walletAddr.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"to":             tx.To.Hex(),
			"value":          orZero(tx.Value),
			"data":           hexutil.Bytes(tx.Data),
			"callGas":        orZero(tx.CallGas),
			"baseGas":        orZero(tx.BaseGas),
			"gasPrice":       orZero(tx.GasPrice),
			"gasToken":       tx.GasToken.Hex(),
			"refundReceiver": tx.RefundReceiver.Hex(),
			"nonce":          new(big.Int).SetUint64(nonce),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash wallet transaction: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// TransactionHash is the digest for tx at the wallet's current nonce.
func (w *Wallet) TransactionHash(tx Transaction) (common.Hash, error) {
	return TransactionHash(w.address, w.chainID, tx, w.nonce)
}

// ExecTransaction runs an owner-signed transaction on behalf of relayer.
//
// The nonce is consumed before the inner call. A failed inner call is reported in
// the result, unless neither CallGas nor GasPrice is set, in which case the whole
// transaction fails. When the refund cannot be paid the inner call's effects are
// rolled back and the result is marked unpaid; the nonce stays consumed.
func (w *Wallet) ExecTransaction(ctx context.Context, st ledger.State, relayer common.Address, tx Transaction, sigs []byte) (ExecResult, error) {
	if !w.initialized {
		return ExecResult{}, erc4337.ErrNotInitialized
	}

	digest, err := w.TransactionHash(tx)
	if err != nil {
		return ExecResult{}, err
	}
	if _, err := signature.Verify(digest, sigs, w.owners, w.threshold); err != nil {
		return ExecResult{}, err
	}

	w.checkpoint(st)
	w.nonce++

	callGas := orZero(tx.CallGas)
	gasPrice := orZero(tx.GasPrice)

	snap := st.Snapshot()
	gasUsed := fee.CallGas(tx.Data)
	var callErr error
	if callGas.Sign() > 0 && gasUsed.Cmp(callGas) > 0 {
		callErr = fmt.Errorf("%w: call needs %s gas, limit %s", erc4337.ErrGasLimit, gasUsed, callGas)
		gasUsed = new(big.Int).Set(callGas)
	} else {
		_, callErr = w.execute(ctx, st, tx.To, orZero(tx.Value), tx.Data)
	}

	if callErr != nil && callGas.Sign() == 0 && gasPrice.Sign() == 0 {
		return ExecResult{}, callErr
	}

	res := ExecResult{Success: callErr == nil, Payment: new(big.Int)}
	if callErr != nil {
		w.logger(ctx).Warn().Err(callErr).Msg("wallet transaction call failed")
	}
	if gasPrice.Sign() == 0 {
		return res, nil
	}

	receiver := tx.RefundReceiver
	if receiver == (common.Address{}) {
		receiver = relayer
	}
	gasUsed.Add(gasUsed, orZero(tx.BaseGas))

	payment, err := w.refund(ctx, st, gasUsed, gasPrice, tx.GasToken, receiver)
	if err != nil {
		st.RevertToSnapshot(snap)
		w.logger(ctx).Warn().Err(err).Str("receiver", receiver.Hex()).Msg("wallet transaction refund failed")
		return ExecResult{Success: false, Payment: new(big.Int)}, nil
	}
	res.Paid = true
	res.Payment = payment
	return res, nil
}

func (w *Wallet) refund(ctx context.Context, st ledger.State, gasUsed, gasPrice *big.Int, token, receiver common.Address) (*big.Int, error) {
	q, err := w.engine.Quote(ctx, gasUsed, gasPrice, token)
	if err != nil {
		return nil, err
	}
	return w.PayRelayer(ctx, st, q, receiver)
}
