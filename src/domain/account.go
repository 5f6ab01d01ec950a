package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ethaccount/aawallet/erc4337"
)

// AccountView is the read model of a ledger address served over HTTP.
type AccountView struct {
	Address           common.Address   `json:"address"`
	Balance           *hexutil.Big     `json:"balance"`
	Deployed          bool             `json:"deployed"`
	Wallet            bool             `json:"wallet"`
	Nonce             hexutil.Uint64   `json:"nonce"`
	Owners            []common.Address `json:"owners,omitempty"`
	Threshold         int              `json:"threshold,omitempty"`
	Guardians         []common.Address `json:"guardians,omitempty"`
	GuardianThreshold int              `json:"guardianThreshold,omitempty"`
	RecoveryNonce     hexutil.Uint64   `json:"recoveryNonce"`
}

// BatchResult is returned after a batch is handled.
type BatchResult struct {
	BatchID     string             `json:"batchId"`
	Beneficiary common.Address     `json:"beneficiary"`
	Collected   *hexutil.Big       `json:"collected"`
	Receipts    []*erc4337.Receipt `json:"receipts"`
}
