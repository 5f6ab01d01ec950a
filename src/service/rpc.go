package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ethaccount/aawallet/erc4337"
)

// JSON-RPC error codes reported for rejected operations.
const (
	codeInvalidParams     = -32602
	codeRejectedByAccount = -32500
	codeRejectedBySponsor = -32501
	codeInternal          = -32603
)

type rpcError struct {
	code int
	err  error
}

func (e *rpcError) Error() string  { return e.err.Error() }
func (e *rpcError) ErrorCode() int { return e.code }
func (e *rpcError) Unwrap() error  { return e.err }

func toRPCError(err error) error {
	if err == nil {
		return nil
	}
	code := codeInternal
	switch {
	case errors.Is(err, ErrUnsupportedEntryPoint):
		code = codeInvalidParams
	case IsSponsorRejection(err):
		code = codeRejectedBySponsor
	case IsRejection(err):
		code = codeRejectedByAccount
	}
	return &rpcError{code: code, err: err}
}

// RPCService is the bundler JSON-RPC API, served under the "eth" namespace.
type RPCService struct {
	bundler *BundlerService
}

func NewRPCService(bundler *BundlerService) *RPCService {
	return &RPCService{bundler: bundler}
}

// NewRPCServer returns a JSON-RPC server with the bundler API registered.
func NewRPCServer(bundler *BundlerService) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("eth", NewRPCService(bundler)); err != nil {
		return nil, fmt.Errorf("failed to register rpc service: %w", err)
	}
	return server, nil
}

func (api *RPCService) ChainId() *hexutil.Big {
	return (*hexutil.Big)(api.bundler.ChainID())
}

func (api *RPCService) SupportedEntryPoints() []common.Address {
	return []common.Address{api.bundler.EntryPoint()}
}

func (api *RPCService) GetUserOpHash(op *erc4337.UserOperation, entryPoint common.Address) (common.Hash, error) {
	if op == nil {
		return common.Hash{}, &rpcError{code: codeInvalidParams, err: errors.New("missing user operation")}
	}
	hash, err := op.UserOpHash(entryPoint, api.bundler.ChainID())
	if err != nil {
		return common.Hash{}, &rpcError{code: codeInvalidParams, err: err}
	}
	return hash, nil
}

func (api *RPCService) GetSenderAddress(initCode hexutil.Bytes) (common.Address, error) {
	if len(initCode) == 0 {
		return common.Address{}, &rpcError{code: codeInvalidParams, err: errors.New("empty init code")}
	}
	return api.bundler.SenderAddress(initCode), nil
}

func (api *RPCService) SendUserOperation(ctx context.Context, op *erc4337.UserOperation, entryPoint common.Address) (common.Hash, error) {
	if op == nil {
		return common.Hash{}, &rpcError{code: codeInvalidParams, err: errors.New("missing user operation")}
	}
	hash, err := api.bundler.SendUserOperation(ctx, op, entryPoint)
	return hash, toRPCError(err)
}

func (api *RPCService) HandleOps(ctx context.Context, ops []*erc4337.UserOperation, beneficiary common.Address) ([]*erc4337.Receipt, error) {
	res, err := api.bundler.HandleOps(ctx, ops, beneficiary)
	if err != nil {
		return nil, toRPCError(err)
	}
	return res.Receipts, nil
}

// GetUserOperationReceipt returns null for unknown hashes.
func (api *RPCService) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*erc4337.Receipt, error) {
	r, err := api.bundler.GetUserOperationReceipt(ctx, hash)
	return r, toRPCError(err)
}
