package wallet

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/fee"
	"github.com/ethaccount/aawallet/src/ledger"
)

// Factory deploys wallets from createAccount init code. It is the ledger's deployer.
type Factory struct {
	entryPoint common.Address
	chainID    *big.Int
	engine     *fee.Engine
}

func NewFactory(entryPoint common.Address, chainID *big.Int, engine *fee.Engine) *Factory {
	return &Factory{
		entryPoint: entryPoint,
		chainID:    new(big.Int).Set(chainID),
		engine:     engine,
	}
}

// Deploy decodes initCode and returns a set-up wallet bound to the entry point.
func (f *Factory) Deploy(ctx context.Context, st ledger.State, addr common.Address, initCode []byte) (ledger.Contract, error) {
	cfg, err := DecodeInitCode(initCode)
	if err != nil {
		return nil, err
	}

	w := New(addr, f.entryPoint, f.chainID, f.engine)
	if err := w.Setup(st, cfg); err != nil {
		return nil, err
	}
	return w, nil
}

// Address is the counterfactual address of the wallet initCode deploys.
func (f *Factory) Address(initCode []byte) common.Address {
	return erc4337.SenderAddress(f.entryPoint, initCode)
}

// EncodeInitCode builds createAccount init code. salt only varies the address.
func EncodeInitCode(owners []common.Address, threshold int, guardians []common.Address, guardianThreshold int, salt *big.Int) ([]byte, error) {
	if owners == nil {
		owners = []common.Address{}
	}
	if guardians == nil {
		guardians = []common.Address{}
	}
	return factoryABI.Pack("createAccount",
		owners,
		big.NewInt(int64(threshold)),
		guardians,
		big.NewInt(int64(guardianThreshold)),
		orZero(salt),
	)
}

// DecodeInitCode parses createAccount init code into a wallet configuration.
func DecodeInitCode(initCode []byte) (Config, error) {
	method := factoryABI.Methods["createAccount"]
	if len(initCode) < 4 || !bytes.Equal(initCode[:4], method.ID) {
		return Config{}, fmt.Errorf("%w: init code is not createAccount", ErrInvalidCallData)
	}
	args, err := method.Inputs.Unpack(initCode[4:])
	if err != nil {
		return Config{}, fmt.Errorf("%w: createAccount: %v", ErrInvalidCallData, err)
	}

	threshold, err := toCount(args[1].(*big.Int))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", erc4337.ErrInvalidConfig, err)
	}
	guardianThreshold, err := toCount(args[3].(*big.Int))
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", erc4337.ErrInvalidConfig, err)
	}

	return Config{
		Owners:            args[0].([]common.Address),
		Threshold:         threshold,
		Guardians:         args[2].([]common.Address),
		GuardianThreshold: guardianThreshold,
	}, nil
}
