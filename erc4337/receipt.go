package erc4337

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OpStatus is the outcome of one operation inside a batch.
type OpStatus string

const (
	// StatusSucceeded: validated, executed and settled.
	StatusSucceeded OpStatus = "succeeded"
	// StatusCallFailed: the target call failed, the nonce was consumed and the relayer was paid.
	StatusCallFailed OpStatus = "call_failed"
	// StatusSettlementFailed: the work was done but nobody paid for it. Call effects
	// are rolled back, the nonce stays consumed.
	StatusSettlementFailed OpStatus = "settlement_failed"
	// StatusRejected: validation failed, nothing changed.
	StatusRejected OpStatus = "rejected"
)

// Receipt records what happened to a single operation.
type Receipt struct {
	OpHash        common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Paymaster     common.Address `json:"paymaster"`
	Nonce         *hexutil.Big   `json:"nonce"`
	Status        OpStatus       `json:"status"`
	Success       bool           `json:"success"`
	ActualGasUsed *hexutil.Big   `json:"actualGasUsed"`
	ActualGasCost *hexutil.Big   `json:"actualGasCost"`
	Failure       Failure        `json:"failure,omitempty"`
	RevertReason  string         `json:"revertReason,omitempty"`
	ReturnData    hexutil.Bytes  `json:"returnData,omitempty"`
}

// Charged reports whether the relayer was paid for this operation.
func (r *Receipt) Charged() bool {
	return r.Status == StatusSucceeded || r.Status == StatusCallFailed
}

// Cost returns the actual gas cost, zero when nothing was charged.
func (r *Receipt) Cost() *big.Int {
	if r.ActualGasCost == nil || !r.Charged() {
		return new(big.Int)
	}
	return new(big.Int).Set((*big.Int)(r.ActualGasCost))
}

// TotalCharged sums the cost of every charged receipt.
func TotalCharged(receipts []*Receipt) *big.Int {
	total := new(big.Int)
	for _, r := range receipts {
		total.Add(total, r.Cost())
	}
	return total
}
