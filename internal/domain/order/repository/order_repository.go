package repository

import (
	"fmt"
	"time"

	"marketplace_backend/internal/domain/order/model"

	"gorm.io/gorm"
)

type OrderRepository interface {
	WithTx(tx *gorm.DB) OrderRepository
	Transaction(fn func(tx *gorm.DB) error) error

	CreateGroup(group *model.OrderGroup) error
	GetGroupByID(id string) (*model.OrderGroup, error)
	GetGroupByPaymentIntentID(intentID string) (*model.OrderGroup, error)
	GetGroupByCode(code string) (*model.OrderGroup, error)
	ListGroupsBySeller(sellerUserID string, offset, limit int) ([]model.OrderGroup, int64, error)

	UpdateGroupTotals(group *model.OrderGroup) error
	CreateOrder(order *model.Order) error
	UpdateOrderTotals(order *model.Order) error
	DeleteOrder(id string) error
	CreateDetail(detail *model.OrderDetail) error
	UpdateDetail(detail *model.OrderDetail) error
	DeleteDetail(id string) error
	DeleteGroup(id string) error

	AttachPaymentIntent(groupID, intentID string) error
	UpdateStatusByGroup(groupID, status string) error
	SetGroupPaymentTransaction(groupID, paymentTransactionID string) error
	TimeoutStaleGroups(intervalSeconds int) (int64, error)
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) WithTx(tx *gorm.DB) OrderRepository {
	return &orderRepository{db: tx}
}

func (r *orderRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

func (r *orderRepository) CreateGroup(group *model.OrderGroup) error {
	// 嵌套创建 Orders / Details
	return r.db.Create(group).Error
}

func (r *orderRepository) GetGroupByID(id string) (*model.OrderGroup, error) {
	var group model.OrderGroup
	err := r.db.Preload("Orders.Details").Preload("Orders").
		First(&group, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *orderRepository) GetGroupByPaymentIntentID(intentID string) (*model.OrderGroup, error) {
	var group model.OrderGroup
	err := r.db.Preload("Orders.Details").Preload("Orders").
		First(&group, "payment_intent_id = ?", intentID).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *orderRepository) GetGroupByCode(code string) (*model.OrderGroup, error) {
	var group model.OrderGroup
	err := r.db.Preload("Orders.Details").Preload("Orders").
		First(&group, "code = ?", code).Error
	if err != nil {
		return nil, err
	}
	return &group, nil
}

func (r *orderRepository) ListGroupsBySeller(sellerUserID string, offset, limit int) ([]model.OrderGroup, int64, error) {
	var (
		groups []model.OrderGroup
		total  int64
	)

	q := r.db.Model(&model.OrderGroup{}).Where("seller_user_id = ?", sellerUserID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := q.Preload("Orders.Details").Preload("Orders").
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&groups).Error
	if err != nil {
		return nil, 0, err
	}
	return groups, total, nil
}

// UpdateGroupTotals 只更新金额与状态列，避免整棵聚合重写
func (r *orderRepository) UpdateGroupTotals(group *model.OrderGroup) error {
	return r.db.Model(&model.OrderGroup{}).Where("id = ?", group.ID).
		Updates(map[string]interface{}{
			"amount":        group.Amount,
			"shipping_fee":  group.ShippingFee,
			"total_amount":  group.TotalAmount,
			"used_tokens":   group.UsedTokens,
			"fiat_amount":   group.FiatAmount,
			"earned_tokens": group.EarnedTokens,
			"user_id":       group.UserID,
			"status":        group.Status,
		}).Error
}

func (r *orderRepository) CreateOrder(order *model.Order) error {
	return r.db.Create(order).Error
}

func (r *orderRepository) UpdateOrderTotals(order *model.Order) error {
	return r.db.Model(&model.Order{}).Where("id = ?", order.ID).
		Updates(map[string]interface{}{
			"amount":       order.Amount,
			"shipping_fee": order.ShippingFee,
			"total_amount": order.TotalAmount,
			"status":       order.Status,
		}).Error
}

func (r *orderRepository) DeleteOrder(id string) error {
	if err := r.db.Where("order_id = ?", id).Delete(&model.OrderDetail{}).Error; err != nil {
		return err
	}
	return r.db.Delete(&model.Order{}, "id = ?", id).Error
}

func (r *orderRepository) CreateDetail(detail *model.OrderDetail) error {
	return r.db.Create(detail).Error
}

func (r *orderRepository) UpdateDetail(detail *model.OrderDetail) error {
	return r.db.Save(detail).Error
}

func (r *orderRepository) DeleteDetail(id string) error {
	return r.db.Delete(&model.OrderDetail{}, "id = ?", id).Error
}

// DeleteGroup 级联删除整个聚合（仅 IN_PROGRESS 时调用）
func (r *orderRepository) DeleteGroup(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var orderIDs []string
		if err := tx.Model(&model.Order{}).Where("order_group_id = ?", id).
			Pluck("id", &orderIDs).Error; err != nil {
			return err
		}
		if len(orderIDs) > 0 {
			if err := tx.Where("order_id IN ?", orderIDs).Delete(&model.OrderDetail{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("order_group_id = ?", id).Delete(&model.Order{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.OrderGroup{}, "id = ?", id).Error
	})
}

// AttachPaymentIntent 把网关 intent id 关联到订单组、子订单和明细，
// 供后续 webhook/确认回调定位
func (r *orderRepository) AttachPaymentIntent(groupID, intentID string) error {
	if err := r.db.Model(&model.OrderGroup{}).Where("id = ?", groupID).
		Update("payment_intent_id", intentID).Error; err != nil {
		return err
	}
	if err := r.db.Model(&model.Order{}).Where("order_group_id = ?", groupID).
		Update("payment_intent_id", intentID).Error; err != nil {
		return err
	}
	return r.db.Exec(
		"UPDATE order_details SET payment_intent_id = ? WHERE order_id IN (SELECT id FROM orders WHERE order_group_id = ?)",
		intentID, groupID,
	).Error
}

// UpdateStatusByGroup 同步更新订单组与全部子订单的状态
func (r *orderRepository) UpdateStatusByGroup(groupID, status string) error {
	if err := r.db.Model(&model.OrderGroup{}).Where("id = ?", groupID).
		Update("status", status).Error; err != nil {
		return err
	}
	return r.db.Model(&model.Order{}).Where("order_group_id = ?", groupID).
		Update("status", status).Error
}

func (r *orderRepository) SetGroupPaymentTransaction(groupID, paymentTransactionID string) error {
	return r.db.Model(&model.OrderGroup{}).Where("id = ?", groupID).
		Update("payment_transaction_id", paymentTransactionID).Error
}

// TimeoutStaleGroups 把超过间隔仍 IN_PROGRESS 的订单组批量置为 TIMEOUT。
// 幂等批量更新，允许清扫任务并发重叠执行。
func (r *orderRepository) TimeoutStaleGroups(intervalSeconds int) (int64, error) {
	deadline := time.Now().Add(-time.Duration(intervalSeconds) * time.Second)

	result := r.db.Model(&model.OrderGroup{}).
		Where("status = ? AND created_at < ?", model.StatusInProgress, deadline).
		Update("status", model.StatusTimeout)
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		err := r.db.Exec(
			"UPDATE orders SET status = ? WHERE status = ? AND order_group_id IN (SELECT id FROM order_groups WHERE status = ?)",
			model.StatusTimeout, model.StatusInProgress, model.StatusTimeout,
		).Error
		if err != nil {
			return result.RowsAffected, fmt.Errorf("timeout child orders: %w", err)
		}
	}

	return result.RowsAffected, nil
}
