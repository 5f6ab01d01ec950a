package repository

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ethaccount/aawallet/erc4337"
)

// MemoryReceiptStore keeps receipts in process memory. Used when no Redis is configured.
type MemoryReceiptStore struct {
	mu       sync.RWMutex
	receipts map[common.Hash]*erc4337.Receipt
}

func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{receipts: make(map[common.Hash]*erc4337.Receipt)}
}

func (s *MemoryReceiptStore) SaveReceipts(ctx context.Context, receipts []*erc4337.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range receipts {
		cp := *r
		s.receipts[r.OpHash] = &cp
	}
	return nil
}

func (s *MemoryReceiptStore) GetReceipt(ctx context.Context, hash common.Hash) (*erc4337.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[hash]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}
