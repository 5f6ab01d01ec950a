package erc4337

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultEntryPoint is the entry point address used when none is configured.
var DefaultEntryPoint = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

// UserOperation is a single wallet operation together with its fee terms,
// optional sponsor and the owners' authorization.
type UserOperation struct {
	Sender               common.Address  `json:"sender"`
	Nonce                *hexutil.Big    `json:"nonce"`
	InitCode             hexutil.Bytes   `json:"initCode"`
	CallData             hexutil.Bytes   `json:"callData"`
	CallGasLimit         *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster            *common.Address `json:"paymaster"`
	PaymasterData        hexutil.Bytes   `json:"paymasterData"`
	Signature            hexutil.Bytes   `json:"signature"`
}

// MarshalJSON implements custom JSON marshaling for UserOperation
func (uo *UserOperation) MarshalJSON() ([]byte, error) {
	type Alias UserOperation
	aux := struct {
		Nonce                string `json:"nonce"`
		CallGasLimit         string `json:"callGasLimit"`
		VerificationGasLimit string `json:"verificationGasLimit"`
		PreVerificationGas   string `json:"preVerificationGas"`
		MaxFeePerGas         string `json:"maxFeePerGas"`
		MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
		*Alias
	}{
		Alias: (*Alias)(uo),
	}

	// nonce is always a 32-byte word
	aux.Nonce = fmt.Sprintf("0x%064x", bigOrZero(uo.Nonce))

	aux.CallGasLimit = formatHexBig(uo.CallGasLimit)
	aux.VerificationGasLimit = formatHexBig(uo.VerificationGasLimit)
	aux.PreVerificationGas = formatHexBig(uo.PreVerificationGas)
	aux.MaxFeePerGas = formatHexBig(uo.MaxFeePerGas)
	aux.MaxPriorityFeePerGas = formatHexBig(uo.MaxPriorityFeePerGas)

	return json.Marshal(aux)
}

// UnmarshalJSON implements custom JSON unmarshaling for UserOperation.
// Numeric fields accept zero-padded hex, which hexutil.Big rejects.
func (uo *UserOperation) UnmarshalJSON(data []byte) error {
	type Alias UserOperation
	aux := struct {
		Nonce                string `json:"nonce"`
		CallGasLimit         string `json:"callGasLimit"`
		VerificationGasLimit string `json:"verificationGasLimit"`
		PreVerificationGas   string `json:"preVerificationGas"`
		MaxFeePerGas         string `json:"maxFeePerGas"`
		MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
		*Alias
	}{
		Alias: (*Alias)(uo),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fields := []struct {
		name string
		raw  string
		dst  **hexutil.Big
	}{
		{"nonce", aux.Nonce, &uo.Nonce},
		{"callGasLimit", aux.CallGasLimit, &uo.CallGasLimit},
		{"verificationGasLimit", aux.VerificationGasLimit, &uo.VerificationGasLimit},
		{"preVerificationGas", aux.PreVerificationGas, &uo.PreVerificationGas},
		{"maxFeePerGas", aux.MaxFeePerGas, &uo.MaxFeePerGas},
		{"maxPriorityFeePerGas", aux.MaxPriorityFeePerGas, &uo.MaxPriorityFeePerGas},
	}
	for _, f := range fields {
		v, err := parseHexBig(f.raw)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", f.name, err)
		}
		*f.dst = (*hexutil.Big)(v)
	}

	// a zero paymaster is the same as no paymaster
	if uo.Paymaster != nil && *uo.Paymaster == (common.Address{}) {
		uo.Paymaster = nil
	}

	return nil
}

func formatHexBig(v *hexutil.Big) string {
	return fmt.Sprintf("0x%x", bigOrZero(v))
}

func parseHexBig(hexStr string) (*big.Int, error) {
	if hexStr == "" {
		return big.NewInt(0), nil
	}
	if len(hexStr) >= 2 && (hexStr[:2] == "0x" || hexStr[:2] == "0X") {
		hexStr = hexStr[2:]
	}
	if hexStr == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(hexStr, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex string: %s", hexStr)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative value: %s", hexStr)
	}
	return v, nil
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set((*big.Int)(v))
}

// GetNonce returns the nonce as a big.Int (zero when unset).
func (uo *UserOperation) GetNonce() *big.Int { return bigOrZero(uo.Nonce) }

func (uo *UserOperation) GetCallGasLimit() *big.Int { return bigOrZero(uo.CallGasLimit) }

func (uo *UserOperation) GetVerificationGasLimit() *big.Int {
	return bigOrZero(uo.VerificationGasLimit)
}

func (uo *UserOperation) GetPreVerificationGas() *big.Int { return bigOrZero(uo.PreVerificationGas) }

func (uo *UserOperation) GetMaxFeePerGas() *big.Int { return bigOrZero(uo.MaxFeePerGas) }

func (uo *UserOperation) GetMaxPriorityFeePerGas() *big.Int {
	return bigOrZero(uo.MaxPriorityFeePerGas)
}

// HasPaymaster reports whether a sponsor pays for this operation.
func (uo *UserOperation) HasPaymaster() bool {
	return uo.Paymaster != nil && *uo.Paymaster != (common.Address{})
}

// PaymasterAddress returns the sponsor address, or the zero address for self-pay.
func (uo *UserOperation) PaymasterAddress() common.Address {
	if !uo.HasPaymaster() {
		return common.Address{}
	}
	return *uo.Paymaster
}

// TotalGasLimit is verification + call + pre-verification gas.
func (uo *UserOperation) TotalGasLimit() *big.Int {
	total := uo.GetVerificationGasLimit()
	total.Add(total, uo.GetCallGasLimit())
	return total.Add(total, uo.GetPreVerificationGas())
}

// MaxCost is the most the operation can be charged: every gas limit priced at maxFeePerGas.
func (uo *UserOperation) MaxCost() *big.Int {
	return new(big.Int).Mul(uo.TotalGasLimit(), uo.GetMaxFeePerGas())
}

// Copy returns a deep copy of the operation.
func (uo *UserOperation) Copy() *UserOperation {
	cp := &UserOperation{
		Sender:               uo.Sender,
		Nonce:                (*hexutil.Big)(uo.GetNonce()),
		InitCode:             common.CopyBytes(uo.InitCode),
		CallData:             common.CopyBytes(uo.CallData),
		CallGasLimit:         (*hexutil.Big)(uo.GetCallGasLimit()),
		VerificationGasLimit: (*hexutil.Big)(uo.GetVerificationGasLimit()),
		PreVerificationGas:   (*hexutil.Big)(uo.GetPreVerificationGas()),
		MaxFeePerGas:         (*hexutil.Big)(uo.GetMaxFeePerGas()),
		MaxPriorityFeePerGas: (*hexutil.Big)(uo.GetMaxPriorityFeePerGas()),
		PaymasterData:        common.CopyBytes(uo.PaymasterData),
		Signature:            common.CopyBytes(uo.Signature),
	}
	if uo.Paymaster != nil {
		pm := *uo.Paymaster
		cp.Paymaster = &pm
	}
	return cp
}

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
)

// UserOpHash returns the hash the owners sign. It covers every field except the
// signature, bound to the entry point and chain.
func (uo *UserOperation) UserOpHash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	args := abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // keccak(initCode)
		{Type: bytes32Type}, // keccak(callData)
		{Type: uint256Type}, // callGasLimit
		{Type: uint256Type}, // verificationGasLimit
		{Type: uint256Type}, // preVerificationGas
		{Type: uint256Type}, // maxFeePerGas
		{Type: uint256Type}, // maxPriorityFeePerGas
		{Type: addressType}, // paymaster
		{Type: bytes32Type}, // keccak(paymasterData)
	}

	packed, err := args.Pack(
		uo.Sender,
		uo.GetNonce(),
		crypto.Keccak256Hash(uo.InitCode),
		crypto.Keccak256Hash(uo.CallData),
		uo.GetCallGasLimit(),
		uo.GetVerificationGasLimit(),
		uo.GetPreVerificationGas(),
		uo.GetMaxFeePerGas(),
		uo.GetMaxPriorityFeePerGas(),
		uo.PaymasterAddress(),
		crypto.Keccak256Hash(uo.PaymasterData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack user operation: %w", err)
	}

	return bindToEntryPoint(crypto.Keccak256Hash(packed), entryPoint, chainID)
}

// PaymasterHash returns the hash a verifying paymaster's signer signs. It leaves out
// paymasterData and the signature, so the sponsor can sign before the owners do.
func (uo *UserOperation) PaymasterHash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	args := abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // keccak(initCode)
		{Type: bytes32Type}, // keccak(callData)
		{Type: uint256Type}, // callGasLimit
		{Type: uint256Type}, // verificationGasLimit
		{Type: uint256Type}, // preVerificationGas
		{Type: uint256Type}, // maxFeePerGas
		{Type: uint256Type}, // maxPriorityFeePerGas
		{Type: addressType}, // paymaster
	}

	packed, err := args.Pack(
		uo.Sender,
		uo.GetNonce(),
		crypto.Keccak256Hash(uo.InitCode),
		crypto.Keccak256Hash(uo.CallData),
		uo.GetCallGasLimit(),
		uo.GetVerificationGasLimit(),
		uo.GetPreVerificationGas(),
		uo.GetMaxFeePerGas(),
		uo.GetMaxPriorityFeePerGas(),
		uo.PaymasterAddress(),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack user operation for paymaster: %w", err)
	}

	return bindToEntryPoint(crypto.Keccak256Hash(packed), entryPoint, chainID)
}

func bindToEntryPoint(inner common.Hash, entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	if chainID == nil {
		return common.Hash{}, fmt.Errorf("chain id is required")
	}
	args := abi.Arguments{
		{Type: bytes32Type},
		{Type: addressType},
		{Type: uint256Type},
	}
	packed, err := args.Pack(inner, entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack final hash: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// SenderAddress is the counterfactual address a wallet deployed by entryPoint from
// initCode will have: CREATE2 with a zero salt over keccak(initCode).
func SenderAddress(entryPoint common.Address, initCode []byte) common.Address {
	return crypto.CreateAddress2(entryPoint, [32]byte{}, crypto.Keccak256(initCode))
}
