package handler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/domain"
	"github.com/ethaccount/aawallet/src/service"
)

type BundlerHandler struct {
	bundler *service.BundlerService
}

func NewBundlerHandler(bundler *service.BundlerService) *BundlerHandler {
	return &BundlerHandler{
		bundler: bundler,
	}
}

func (h *BundlerHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "bundler").Logger()
	return &l
}

// HandleOpsRequest represents the request payload for running a batch
type HandleOpsRequest struct {
	Ops         []*erc4337.UserOperation `json:"ops" binding:"required,min=1"`
	Beneficiary string                   `json:"beneficiary"`
}

// UserOperationRequest carries a single user operation
type UserOperationRequest struct {
	UserOperation *erc4337.UserOperation `json:"userOperation" binding:"required"`
	EntryPoint    string                 `json:"entryPoint"`
}

// UserOpHashResponse represents the response for hashing or sending an operation
type UserOpHashResponse struct {
	UserOpHash common.Hash    `json:"userOpHash"`
	EntryPoint common.Address `json:"entryPoint"`
	ChainID    *hexutil.Big   `json:"chainId"`
}

// SenderAddressRequest represents the request payload for a counterfactual address
type SenderAddressRequest struct {
	InitCode hexutil.Bytes `json:"initCode" binding:"required"`
}

// FaucetRequest represents the request payload for minting funds
type FaucetRequest struct {
	Address string          `json:"address" binding:"required"`
	Token   string          `json:"token"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
}

// FundPaymasterRequest represents the request payload for paymaster deposit and stake
type FundPaymasterRequest struct {
	From    string          `json:"from" binding:"required"`
	Deposit decimal.Decimal `json:"deposit"`
	Stake   decimal.Decimal `json:"stake"`
}

// TokenDepositRequest represents the request payload for an account's token deposit
type TokenDepositRequest struct {
	Token   string          `json:"token" binding:"required"`
	Account string          `json:"account" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			fmt.Errorf("invalid %s %q", field, value),
			domain.WithMsg(fmt.Sprintf("%s must be a hex address", field)),
		)
	}
	return common.HexToAddress(value), nil
}

// parseOptionalAddress returns the zero address for an empty value.
func parseOptionalAddress(field, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, value)
}

// parseAmount requires a non-negative whole number of base units.
func parseAmount(field string, d decimal.Decimal) (*big.Int, error) {
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return nil, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			fmt.Errorf("invalid %s %s", field, d.String()),
			domain.WithMsg(fmt.Sprintf("%s must be a non-negative integer", field)),
		)
	}
	return d.BigInt(), nil
}

// toDomainError maps service errors to the API error codes.
func toDomainError(err error) error {
	var domainErr domain.DomainError
	switch {
	case errors.As(err, &domainErr):
		return err
	case errors.Is(err, service.ErrUnsupportedEntryPoint), errors.Is(err, service.ErrInvalidAmount):
		return domain.NewError(domain.ErrorCodeParameterInvalid, err)
	case errors.Is(err, service.ErrUnknownPaymaster):
		return domain.NewError(domain.ErrorCodeResourceNotFound, err)
	case service.IsRejection(err):
		return domain.NewOperationError(err)
	default:
		return domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
}

func (h *BundlerHandler) entryPoint(value string) (common.Address, error) {
	if value == "" {
		return h.bundler.EntryPoint(), nil
	}
	return parseAddress("entryPoint", value)
}

// HandleOps handles POST /ops
func (h *BundlerHandler) HandleOps(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "HandleOps").Logger()

	var req HandleOpsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	beneficiary, err := parseOptionalAddress("beneficiary", req.Beneficiary)
	if err != nil {
		respondWithError(c, err)
		return
	}

	res, err := h.bundler.HandleOps(c.Request.Context(), req.Ops, beneficiary)
	if err != nil {
		logger.Error().Err(err).Msg("failed to handle ops")
		respondWithError(c, toDomainError(err))
		return
	}

	logger.Info().Str("batchId", res.BatchID).Int("ops", len(res.Receipts)).Msg("batch handled")
	respondWithSuccess(c, res)
}

// SendUserOperation handles POST /ops/send
func (h *BundlerHandler) SendUserOperation(c *gin.Context) {
	logger := h.logger(c.Request.Context()).With().Str("func", "SendUserOperation").Logger()

	var req UserOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Error().Err(err).Msg("invalid request payload")
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	entryPoint, err := h.entryPoint(req.EntryPoint)
	if err != nil {
		respondWithError(c, err)
		return
	}

	hash, err := h.bundler.SendUserOperation(c.Request.Context(), req.UserOperation, entryPoint)
	if err != nil {
		logger.Warn().Err(err).Msg("user operation not accepted")
		respondWithError(c, toDomainError(err))
		return
	}

	respondWithSuccessAndStatus(c, http.StatusCreated, UserOpHashResponse{
		UserOpHash: hash,
		EntryPoint: entryPoint,
		ChainID:    (*hexutil.Big)(h.bundler.ChainID()),
	})
}

// UserOpHash handles POST /ops/hash
func (h *BundlerHandler) UserOpHash(c *gin.Context) {
	var req UserOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	entryPoint, err := h.entryPoint(req.EntryPoint)
	if err != nil {
		respondWithError(c, err)
		return
	}

	hash, err := req.UserOperation.UserOpHash(entryPoint, h.bundler.ChainID())
	if err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err))
		return
	}

	respondWithSuccess(c, UserOpHashResponse{
		UserOpHash: hash,
		EntryPoint: entryPoint,
		ChainID:    (*hexutil.Big)(h.bundler.ChainID()),
	})
}

// SimulateValidation handles POST /ops/simulate
func (h *BundlerHandler) SimulateValidation(c *gin.Context) {
	var req UserOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}

	res, err := h.bundler.SimulateValidation(c.Request.Context(), req.UserOperation)
	if err != nil {
		respondWithError(c, toDomainError(err))
		return
	}
	respondWithSuccess(c, res)
}

// GetReceipt handles GET /receipts/:hash
func (h *BundlerHandler) GetReceipt(c *gin.Context) {
	raw := c.Param("hash")
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			fmt.Errorf("invalid user operation hash %q", raw),
			domain.WithMsg("hash must be 32 bytes of hex"),
		))
		return
	}

	r, err := h.bundler.GetUserOperationReceipt(c.Request.Context(), common.BytesToHash(b))
	if err != nil {
		h.logger(c.Request.Context()).Error().Err(err).Str("hash", raw).Msg("failed to get receipt")
		respondWithError(c, toDomainError(err))
		return
	}
	if r == nil {
		respondWithError(c, domain.NewError(
			domain.ErrorCodeResourceNotFound,
			fmt.Errorf("no receipt for %s", raw),
			domain.WithMsg("Receipt not found"),
		))
		return
	}
	respondWithSuccess(c, r)
}

// GetAccount handles GET /accounts/:address
func (h *BundlerHandler) GetAccount(c *gin.Context) {
	addr, err := parseAddress("address", c.Param("address"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	respondWithSuccess(c, h.bundler.Account(c.Request.Context(), addr))
}

// SenderAddress handles POST /accounts/address
func (h *BundlerHandler) SenderAddress(c *gin.Context) {
	var req SenderAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	respondWithSuccess(c, gin.H{"sender": h.bundler.SenderAddress(req.InitCode)})
}

// Faucet handles POST /faucet
func (h *BundlerHandler) Faucet(c *gin.Context) {
	var req FaucetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		respondWithError(c, err)
		return
	}
	token, err := parseOptionalAddress("token", req.Token)
	if err != nil {
		respondWithError(c, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.bundler.Fund(c.Request.Context(), addr, token, amount); err != nil {
		respondWithError(c, toDomainError(err))
		return
	}
	respondWithSuccess(c, h.bundler.Account(c.Request.Context(), addr))
}

// FundPaymaster handles POST /paymasters/:address/deposit
func (h *BundlerHandler) FundPaymaster(c *gin.Context) {
	pm, err := parseAddress("paymaster", c.Param("address"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	var req FundPaymasterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		respondWithError(c, err)
		return
	}
	deposit, err := parseAmount("deposit", req.Deposit)
	if err != nil {
		respondWithError(c, err)
		return
	}
	stake, err := parseAmount("stake", req.Stake)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.bundler.FundPaymaster(c.Request.Context(), pm, from, deposit, stake); err != nil {
		respondWithError(c, toDomainError(err))
		return
	}
	respondWithSuccess(c, h.bundler.Account(c.Request.Context(), pm))
}

// DepositTokens handles POST /paymasters/:address/tokens
func (h *BundlerHandler) DepositTokens(c *gin.Context) {
	pm, err := parseAddress("paymaster", c.Param("address"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	var req TokenDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
		return
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		respondWithError(c, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		respondWithError(c, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		respondWithError(c, err)
		return
	}

	if err := h.bundler.DepositTokensFor(c.Request.Context(), pm, token, account, amount); err != nil {
		respondWithError(c, toDomainError(err))
		return
	}
	respondWithSuccess(c, gin.H{
		"paymaster": pm,
		"token":     token,
		"account":   account,
		"balance":   (*hexutil.Big)(h.bundler.TokenBalance(token, account)),
	})
}
