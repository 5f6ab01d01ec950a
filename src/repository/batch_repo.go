package repository

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ethaccount/aawallet/src/domain"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// CreateBatch stores batch together with its operations.
func (r *BatchRepository) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

// FindBatchByID retrieves a batch with its operations in submission order.
func (r *BatchRepository) FindBatchByID(ctx context.Context, id uuid.UUID) (*domain.Batch, error) {
	var batch domain.Batch
	err := r.db.WithContext(ctx).
		Preload("Operations", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Where("id = ?", id).
		First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// FindLatestOperation returns the most recent record of hash, nil when there is none.
func (r *BatchRepository) FindLatestOperation(ctx context.Context, hash common.Hash) (*domain.Operation, error) {
	var op domain.Operation
	err := r.db.WithContext(ctx).
		Where("user_op_hash = ?", hash.Hex()).
		Order("created_at desc").
		First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// FindOperationsBySender returns up to limit records of sender, newest first.
func (r *BatchRepository) FindOperationsBySender(ctx context.Context, sender common.Address, limit int) ([]*domain.Operation, error) {
	var ops []*domain.Operation
	err := r.db.WithContext(ctx).
		Where("sender = ?", sender.Hex()).
		Order("created_at desc").
		Limit(limit).
		Find(&ops).Error
	if err != nil {
		return nil, err
	}
	return ops, nil
}
