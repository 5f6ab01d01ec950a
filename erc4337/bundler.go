package erc4337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Bundler is the JSON-RPC surface of an entry point node.
type Bundler interface {
	ChainId(ctx context.Context) (*big.Int, error)
	SupportedEntryPoints(ctx context.Context) ([]common.Address, error)
	GetUserOpHash(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error)
	GetSenderAddress(ctx context.Context, initCode []byte) (common.Address, error)
	SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error)
	HandleOps(ctx context.Context, ops []*UserOperation, beneficiary common.Address) ([]*Receipt, error)
	GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*Receipt, error)
	Close()
}

type BundlerClient struct {
	client *rpc.Client
}

func DialContext(ctx context.Context, rawurl string) (Bundler, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return NewBundlerClient(c), nil
}

func NewBundlerClient(c *rpc.Client) Bundler {
	return &BundlerClient{c}
}

func (b *BundlerClient) Close() {
	b.client.Close()
}

func (b *BundlerClient) ChainId(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	err := b.client.CallContext(ctx, &result, "eth_chainId")
	if err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

func (b *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var result []common.Address
	err := b.client.CallContext(ctx, &result, "eth_supportedEntryPoints")
	return result, err
}

func (b *BundlerClient) GetUserOpHash(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	var result common.Hash
	err := b.client.CallContext(ctx, &result, "eth_getUserOpHash", op, entryPoint)
	return result, err
}

func (b *BundlerClient) GetSenderAddress(ctx context.Context, initCode []byte) (common.Address, error) {
	var result common.Address
	err := b.client.CallContext(ctx, &result, "eth_getSenderAddress", hexutil.Bytes(initCode))
	return result, err
}

func (b *BundlerClient) SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	var result common.Hash
	err := b.client.CallContext(ctx, &result, "eth_sendUserOperation", op, entryPoint)
	return result, err
}

func (b *BundlerClient) HandleOps(ctx context.Context, ops []*UserOperation, beneficiary common.Address) ([]*Receipt, error) {
	var receipts []*Receipt
	err := b.client.CallContext(ctx, &receipts, "eth_handleOps", ops, beneficiary)
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// GetUserOperationReceipt returns nil without error when the hash is unknown.
func (b *BundlerClient) GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*Receipt, error) {
	var receipt *Receipt
	err := b.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", userOpHash)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
