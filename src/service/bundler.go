package service

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ethaccount/aawallet/erc4337"
	"github.com/ethaccount/aawallet/src/domain"
	"github.com/ethaccount/aawallet/src/entrypoint"
	"github.com/ethaccount/aawallet/src/ledger"
	"github.com/ethaccount/aawallet/src/paymaster"
	"github.com/ethaccount/aawallet/src/wallet"
)

// ReceiptStore keeps the latest receipt of every user operation.
type ReceiptStore interface {
	SaveReceipts(ctx context.Context, receipts []*erc4337.Receipt) error
	GetReceipt(ctx context.Context, hash common.Hash) (*erc4337.Receipt, error)
}

// BatchStore keeps the history of handled batches.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch *domain.Batch) error
	FindLatestOperation(ctx context.Context, hash common.Hash) (*domain.Operation, error)
}

// BundlerService owns the ledger and runs every batch against it, one at a time.
type BundlerService struct {
	mu          sync.Mutex
	entryPoint  *entrypoint.EntryPoint
	ledger      *ledger.Ledger
	beneficiary common.Address
	receipts    ReceiptStore
	batches     BatchStore
}

// NewBundlerService creates the service. batches may be nil when no history is kept.
func NewBundlerService(ep *entrypoint.EntryPoint, l *ledger.Ledger, beneficiary common.Address, receipts ReceiptStore, batches BatchStore) *BundlerService {
	return &BundlerService{
		entryPoint:  ep,
		ledger:      l,
		beneficiary: beneficiary,
		receipts:    receipts,
		batches:     batches,
	}
}

// logger wraps the execution context with component info
func (s *BundlerService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "bundler-service").Logger()
	return &l
}

func (s *BundlerService) ChainID() *big.Int { return s.entryPoint.ChainID() }

func (s *BundlerService) EntryPoint() common.Address { return s.entryPoint.Address() }

func (s *BundlerService) Beneficiary() common.Address { return s.beneficiary }

func (s *BundlerService) UserOpHash(op *erc4337.UserOperation) (common.Hash, error) {
	return s.entryPoint.UserOpHash(op)
}

func (s *BundlerService) SenderAddress(initCode []byte) common.Address {
	return s.entryPoint.GetSenderAddress(initCode)
}

func (s *BundlerService) checkEntryPoint(entryPoint common.Address) error {
	if entryPoint != s.entryPoint.Address() {
		return fmt.Errorf("%w: %s", ErrUnsupportedEntryPoint, entryPoint.Hex())
	}
	return nil
}

// HandleOps runs ops as one batch. A zero beneficiary means the configured one.
func (s *BundlerService) HandleOps(ctx context.Context, ops []*erc4337.UserOperation, beneficiary common.Address) (*domain.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleOps(ctx, ops, beneficiary)
}

func (s *BundlerService) handleOps(ctx context.Context, ops []*erc4337.UserOperation, beneficiary common.Address) (*domain.BatchResult, error) {
	if beneficiary == (common.Address{}) {
		beneficiary = s.beneficiary
	}

	receipts, err := s.entryPoint.HandleOps(ctx, ops, beneficiary)
	s.ledger.Commit()
	if err != nil {
		s.logger(ctx).Error().Err(err).Int("ops", len(ops)).Msg("failed to handle batch")
		return nil, err
	}

	batchID := uuid.New()
	collected := erc4337.TotalCharged(receipts)

	if err := s.recordReceipts(ctx, receipts); err != nil {
		s.logger(ctx).Error().Err(err).Str("batchId", batchID.String()).Msg("failed to store receipts")
	}
	if err := s.recordBatch(ctx, batchID, beneficiary, collected, ops, receipts); err != nil {
		s.logger(ctx).Error().Err(err).Str("batchId", batchID.String()).Msg("failed to store batch")
	}

	s.logger(ctx).Info().
		Str("batchId", batchID.String()).
		Int("ops", len(ops)).
		Str("collected", collected.String()).
		Msg("batch committed")

	return &domain.BatchResult{
		BatchID:     batchID.String(),
		Beneficiary: beneficiary,
		Collected:   (*hexutil.Big)(collected),
		Receipts:    receipts,
	}, nil
}

// recordReceipts stores the receipts worth looking up. A rejected replay never
// hides the receipt of the attempt that was charged.
func (s *BundlerService) recordReceipts(ctx context.Context, receipts []*erc4337.Receipt) error {
	keep := make([]*erc4337.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if r.OpHash == (common.Hash{}) {
			continue
		}
		if r.Status == erc4337.StatusRejected {
			prev, err := s.receipts.GetReceipt(ctx, r.OpHash)
			if err != nil {
				return err
			}
			if prev != nil && prev.Status != erc4337.StatusRejected {
				continue
			}
		}
		keep = append(keep, r)
	}
	if len(keep) == 0 {
		return nil
	}
	return s.receipts.SaveReceipts(ctx, keep)
}

func (s *BundlerService) recordBatch(ctx context.Context, id uuid.UUID, beneficiary common.Address, collected *big.Int, ops []*erc4337.UserOperation, receipts []*erc4337.Receipt) error {
	if s.batches == nil {
		return nil
	}

	batch := &domain.Batch{
		ID:                id,
		ChainID:           s.entryPoint.ChainID().Int64(),
		EntryPointAddress: s.entryPoint.Address().Hex(),
		Beneficiary:       beneficiary.Hex(),
		OpCount:           len(ops),
		Collected:         decimal.NewFromBigInt(collected, 0),
	}
	for i, r := range receipts {
		record, err := domain.NewOperation(i, ops[i], r)
		if err != nil {
			return err
		}
		batch.Operations = append(batch.Operations, *record)
	}
	return s.batches.CreateBatch(ctx, batch)
}

// SendUserOperation validates op against the current state and, when it passes,
// handles it right away in a batch paying the configured beneficiary.
func (s *BundlerService) SendUserOperation(ctx context.Context, op *erc4337.UserOperation, entryPoint common.Address) (common.Hash, error) {
	if err := s.checkEntryPoint(entryPoint); err != nil {
		return common.Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.entryPoint.SimulateValidation(ctx, op)
	if err != nil {
		s.logger(ctx).Debug().Err(err).Msg("user operation failed validation")
		return common.Hash{}, err
	}

	if _, err := s.handleOps(ctx, []*erc4337.UserOperation{op}, s.beneficiary); err != nil {
		return common.Hash{}, err
	}
	return res.OpHash, nil
}

// SimulateValidation reports whether op would pass validation right now.
func (s *BundlerService) SimulateValidation(ctx context.Context, op *erc4337.UserOperation) (*entrypoint.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryPoint.SimulateValidation(ctx, op)
}

// GetUserOperationReceipt returns nil without error when hash is unknown.
func (s *BundlerService) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*erc4337.Receipt, error) {
	r, err := s.receipts.GetReceipt(ctx, hash)
	if err != nil {
		return nil, err
	}
	if r != nil || s.batches == nil {
		return r, nil
	}

	op, err := s.batches.FindLatestOperation(ctx, hash)
	if err != nil || op == nil {
		return nil, err
	}
	return op.Receipt(), nil
}

// Account describes what lives at addr.
func (s *BundlerService) Account(ctx context.Context, addr common.Address) *domain.AccountView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := &domain.AccountView{
		Address: addr,
		Balance: (*hexutil.Big)(s.ledger.Balance(addr)),
	}
	c, ok := s.ledger.Contract(addr)
	if !ok {
		return view
	}
	view.Deployed = true

	w, ok := c.(*wallet.Wallet)
	if !ok {
		return view
	}
	guardians := w.Guardians()
	view.Wallet = true
	view.Nonce = hexutil.Uint64(w.Nonce())
	view.Owners = w.Owners()
	view.Threshold = w.Threshold()
	view.Guardians = guardians.Members()
	view.GuardianThreshold = guardians.Threshold()
	view.RecoveryNonce = hexutil.Uint64(guardians.Nonce())
	return view
}

// TokenBalance returns the token balance of holder.
func (s *BundlerService) TokenBalance(token, holder common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.TokenBalance(token, holder)
}

// Fund mints amount to addr, in token when token is set. It is the only source
// of value on a development node.
func (s *BundlerService) Fund(ctx context.Context, addr, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if token == (common.Address{}) {
		s.ledger.Mint(addr, amount)
	} else {
		s.ledger.MintToken(token, addr, amount)
	}
	s.ledger.Commit()

	s.logger(ctx).Info().
		Str("address", addr.Hex()).
		Str("token", token.Hex()).
		Str("amount", amount.String()).
		Msg("funded address")
	return nil
}

type fundedPaymaster interface {
	Deposit(st ledger.State, from common.Address, amount *big.Int) error
	AddStake(st ledger.State, from common.Address, amount *big.Int) error
}

// FundPaymaster moves deposit and stake from from into a registered paymaster.
// Either amount may be nil.
func (s *BundlerService) FundPaymaster(ctx context.Context, pmAddr, from common.Address, deposit, stake *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pm, ok := s.entryPoint.Paymaster(pmAddr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPaymaster, pmAddr.Hex())
	}
	funded, ok := pm.(fundedPaymaster)
	if !ok {
		return fmt.Errorf("%w: %s does not take deposits", ErrUnknownPaymaster, pmAddr.Hex())
	}

	snap := s.ledger.Snapshot()
	err := s.fundPaymaster(funded, from, deposit, stake)
	if err != nil {
		s.ledger.RevertToSnapshot(snap)
	}
	s.ledger.Commit()
	if err != nil {
		return err
	}

	s.logger(ctx).Info().
		Str("paymaster", pmAddr.Hex()).
		Str("from", from.Hex()).
		Msg("funded paymaster")
	return nil
}

func (s *BundlerService) fundPaymaster(pm fundedPaymaster, from common.Address, deposit, stake *big.Int) error {
	if deposit != nil && deposit.Sign() > 0 {
		if err := pm.Deposit(s.ledger, from, deposit); err != nil {
			return err
		}
	}
	if stake != nil && stake.Sign() > 0 {
		if err := pm.AddStake(s.ledger, from, stake); err != nil {
			return err
		}
	}
	return nil
}

// DepositTokensFor credits account's token deposit at a deposit paymaster,
// paid from account's own token balance.
func (s *BundlerService) DepositTokensFor(ctx context.Context, pmAddr, token, account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pm, ok := s.entryPoint.Paymaster(pmAddr)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPaymaster, pmAddr.Hex())
	}
	dp, ok := pm.(*paymaster.DepositPaymaster)
	if !ok {
		return fmt.Errorf("%w: %s is not a deposit paymaster", ErrUnknownPaymaster, pmAddr.Hex())
	}

	snap := s.ledger.Snapshot()
	err := dp.AddDepositFor(s.ledger, token, account, account, amount)
	if err != nil {
		s.ledger.RevertToSnapshot(snap)
	}
	s.ledger.Commit()
	return err
}
