package repository

import (
	"time"

	"marketplace_backend/internal/domain/order/model"

	"gorm.io/gorm"
)

type LockRepository interface {
	WithTx(tx *gorm.DB) LockRepository
	Transaction(fn func(tx *gorm.DB) error) error

	BulkCreate(locks []*model.ProductStockLock) error
	DeleteByUserAndOrder(userID, orderID string) error
	// SumActiveQuantity 统计某商品某履约方式下 pristine/locked 锁定量，
	// 排除指定 (user, order) 自身的锁定，避免买家改数量时自我阻塞
	SumActiveQuantity(productID, lockType, excludeUserID, excludeOrderID string) (int, error)
	FindByPaymentIntent(intentID string) ([]*model.ProductStockLock, error)
	UpdateStatus(userID, orderID, status string) error
	DeleteOlderThan(status string, intervalSeconds int) (int64, error)
}

type lockRepository struct {
	db *gorm.DB
}

func NewLockRepository(db *gorm.DB) LockRepository {
	return &lockRepository{db: db}
}

func (r *lockRepository) WithTx(tx *gorm.DB) LockRepository {
	return &lockRepository{db: tx}
}

func (r *lockRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

func (r *lockRepository) BulkCreate(locks []*model.ProductStockLock) error {
	if len(locks) == 0 {
		return nil
	}
	return r.db.Create(locks).Error
}

func (r *lockRepository) DeleteByUserAndOrder(userID, orderID string) error {
	return r.db.Where("user_id = ? AND order_id = ?", userID, orderID).
		Delete(&model.ProductStockLock{}).Error
}

func (r *lockRepository) SumActiveQuantity(productID, lockType, excludeUserID, excludeOrderID string) (int, error) {
	var sum *int

	q := r.db.Model(&model.ProductStockLock{}).
		Select("SUM(quantity)").
		Where("product_id = ? AND type = ? AND status IN ?",
			productID, lockType, []string{model.LockStatusPristine, model.LockStatusLocked})

	if excludeUserID != "" && excludeOrderID != "" {
		q = q.Where("NOT (user_id = ? AND order_id = ?)", excludeUserID, excludeOrderID)
	}

	if err := q.Scan(&sum).Error; err != nil {
		return 0, err
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

func (r *lockRepository) FindByPaymentIntent(intentID string) ([]*model.ProductStockLock, error) {
	var locks []*model.ProductStockLock
	err := r.db.Where("payment_intent_id = ?", intentID).Find(&locks).Error
	if err != nil {
		return nil, err
	}
	return locks, nil
}

func (r *lockRepository) UpdateStatus(userID, orderID, status string) error {
	return r.db.Model(&model.ProductStockLock{}).
		Where("user_id = ? AND order_id = ?", userID, orderID).
		Update("status", status).Error
}

// DeleteOlderThan 删除仍处于指定状态且超过间隔的锁定记录，由后台清扫调用
func (r *lockRepository) DeleteOlderThan(status string, intervalSeconds int) (int64, error) {
	deadline := time.Now().Add(-time.Duration(intervalSeconds) * time.Second)

	result := r.db.Where("status = ? AND created_at < ?", status, deadline).
		Delete(&model.ProductStockLock{})
	return result.RowsAffected, result.Error
}
