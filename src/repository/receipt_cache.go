package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"

	"github.com/ethaccount/aawallet/erc4337"
)

// ReceiptCache keeps the latest receipt of every user operation in Redis.
type ReceiptCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
}

// NewReceiptCache stores receipts under prefix:<userOpHash> for ttl (0 keeps them forever).
func NewReceiptCache(redis *redis.Client, prefix string, ttl time.Duration) *ReceiptCache {
	return &ReceiptCache{
		redis:  redis,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *ReceiptCache) key(hash common.Hash) string {
	return fmt.Sprintf("%s:%s", r.prefix, hash.Hex())
}

// SaveReceipts writes receipts in one transaction.
func (r *ReceiptCache) SaveReceipts(ctx context.Context, receipts []*erc4337.Receipt) error {
	pipe := r.redis.TxPipeline()
	for _, receipt := range receipts {
		data, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("failed to marshal receipt: %w", err)
		}
		pipe.Set(ctx, r.key(receipt.OpHash), data, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save receipts: %w", err)
	}
	return nil
}

// GetReceipt returns nil without error when hash is unknown.
func (r *ReceiptCache) GetReceipt(ctx context.Context, hash common.Hash) (*erc4337.Receipt, error) {
	data, err := r.redis.Get(ctx, r.key(hash)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt %s: %w", hash.Hex(), err)
	}

	var receipt erc4337.Receipt
	if err := json.Unmarshal(data, &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt %s: %w", hash.Hex(), err)
	}
	return &receipt, nil
}

func (r *ReceiptCache) DeleteReceipt(ctx context.Context, hash common.Hash) error {
	return r.redis.Del(ctx, r.key(hash)).Err()
}

// CountByStatus scans every cached receipt and counts them per status.
func (r *ReceiptCache) CountByStatus(ctx context.Context) (map[erc4337.OpStatus]int, error) {
	counts := make(map[erc4337.OpStatus]int)

	iter := r.redis.Scan(ctx, 0, r.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.redis.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// expired between scan and get
			if err == redis.Nil {
				continue
			}
			return nil, fmt.Errorf("failed to get receipt for key %s: %w", iter.Val(), err)
		}

		var receipt erc4337.Receipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal receipt for key %s: %w", iter.Val(), err)
		}
		counts[receipt.Status]++
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan receipts: %w", err)
	}
	return counts, nil
}
