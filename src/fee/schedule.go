package fee

import (
	"math/big"
)

// Gas schedule charged by the in-memory ledger. The numbers follow the EVM costs of
// the equivalent contract work.
const (
	TxDataZeroGas    = 4
	TxDataNonZeroGas = 16

	CallBaseGas = 21000

	ValidationBaseGas = 10000
	SignatureGas      = 6000
	SponsorCheckGas   = 12000

	DeployBaseGas = 32000
	DeployByteGas = 200
)

// CalldataGas prices data the way transaction data is priced.
func CalldataGas(data []byte) uint64 {
	var gas uint64
	for _, b := range data {
		if b == 0 {
			gas += TxDataZeroGas
		} else {
			gas += TxDataNonZeroGas
		}
	}
	return gas
}

// CallGas is the gas used to execute a call payload.
func CallGas(data []byte) *big.Int {
	return new(big.Int).SetUint64(CallBaseGas + CalldataGas(data))
}

// ValidationGas is the gas used to validate an operation that checked
// signatures signatures, with or without a sponsor, deploying initCode first.
func ValidationGas(signatures int, sponsored bool, initCode []byte) *big.Int {
	gas := uint64(ValidationBaseGas) + uint64(signatures)*SignatureGas
	if sponsored {
		gas += SponsorCheckGas
	}
	if len(initCode) > 0 {
		gas += DeployBaseGas + uint64(len(initCode))*DeployByteGas
	}
	return new(big.Int).SetUint64(gas)
}

// EffectiveGasPrice is min(maxFeePerGas, baseFee + maxPriorityFeePerGas).
func EffectiveGasPrice(maxFeePerGas, maxPriorityFeePerGas, baseFee *big.Int) *big.Int {
	if maxFeePerGas == nil {
		return new(big.Int)
	}
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	if maxPriorityFeePerGas == nil {
		maxPriorityFeePerGas = new(big.Int)
	}
	price := new(big.Int).Add(baseFee, maxPriorityFeePerGas)
	if price.Cmp(maxFeePerGas) > 0 {
		return new(big.Int).Set(maxFeePerGas)
	}
	return price
}
