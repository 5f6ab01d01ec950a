package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ethaccount/aawallet/erc4337"
)

// Batch is one HandleOps call as recorded in the history tables.
type Batch struct {
	ID                uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	ChainID           int64           `gorm:"not null"`
	EntryPointAddress string          `gorm:"type:varchar(42);not null"`
	Beneficiary       string          `gorm:"type:varchar(42);not null"`
	OpCount           int             `gorm:"not null"`
	Collected         decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	CreatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Operations []Operation `gorm:"foreignKey:BatchID"`
}

func (Batch) TableName() string { return "batches" }

// Operation is the outcome of one user operation inside a batch.
type Operation struct {
	ID            uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	BatchID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	Position      int             `gorm:"not null"`
	UserOpHash    string          `gorm:"type:varchar(66);not null;index"`
	Sender        string          `gorm:"type:varchar(42);not null;index"`
	Nonce         decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	Paymaster     string          `gorm:"type:varchar(42)"`
	Status        string          `gorm:"type:varchar(32);not null"`
	Failure       string          `gorm:"type:varchar(32)"`
	RevertReason  string          `gorm:"type:text"`
	ActualGasUsed decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	ActualGasCost decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	UserOperation json.RawMessage `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Operation) TableName() string { return "operations" }

func toDecimal(v *hexutil.Big) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt((*big.Int)(v), 0)
}

func toHexBig(d decimal.Decimal) *hexutil.Big {
	return (*hexutil.Big)(d.BigInt())
}

// NewOperation records op and its receipt at position in a batch.
func NewOperation(position int, op *erc4337.UserOperation, r *erc4337.Receipt) (*Operation, error) {
	opJSON := json.RawMessage("null")
	if op != nil {
		var err error
		if opJSON, err = json.Marshal(op); err != nil {
			return nil, fmt.Errorf("failed to marshal user operation: %w", err)
		}
	}

	record := &Operation{
		Position:      position,
		UserOpHash:    r.OpHash.Hex(),
		Sender:        r.Sender.Hex(),
		Nonce:         toDecimal(r.Nonce),
		Status:        string(r.Status),
		Failure:       string(r.Failure),
		RevertReason:  r.RevertReason,
		ActualGasUsed: toDecimal(r.ActualGasUsed),
		ActualGasCost: toDecimal(r.ActualGasCost),
		UserOperation: opJSON,
	}
	if r.Paymaster != (common.Address{}) {
		record.Paymaster = r.Paymaster.Hex()
	}
	return record, nil
}

// Receipt rebuilds the receipt the operation was recorded from. Return data is
// not persisted.
func (o *Operation) Receipt() *erc4337.Receipt {
	r := &erc4337.Receipt{
		OpHash:        common.HexToHash(o.UserOpHash),
		Sender:        common.HexToAddress(o.Sender),
		Nonce:         toHexBig(o.Nonce),
		Status:        erc4337.OpStatus(o.Status),
		Success:       o.Status == string(erc4337.StatusSucceeded),
		ActualGasUsed: toHexBig(o.ActualGasUsed),
		ActualGasCost: toHexBig(o.ActualGasCost),
		Failure:       erc4337.Failure(o.Failure),
		RevertReason:  o.RevertReason,
	}
	if o.Paymaster != "" {
		r.Paymaster = common.HexToAddress(o.Paymaster)
	}
	return r
}

// GetUserOperation returns the recorded operation.
func (o *Operation) GetUserOperation() (*erc4337.UserOperation, error) {
	var op erc4337.UserOperation
	if err := json.Unmarshal(o.UserOperation, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user operation: %w", err)
	}
	return &op, nil
}
