package model

import (
	baseModel "marketplace_backend/pkg/model"
)

// 库存锁定类型：店头库存 / 后日配送库存
const (
	LockTypeStock          = "stock"
	LockTypeShipLaterStock = "ship_later_stock"
)

// 锁定状态：pristine 持有未确认，locked 支付进行中。
// 成功、主动释放或超时清扫时直接删除，数量变更建模为删除后重建。
const (
	LockStatusPristine = "pristine"
	LockStatusLocked   = "locked"
)

// ProductStockLock 短时库存锁定记录（locking item）。
// 仅是建议性持有，真实库存只在结算时扣减。
type ProductStockLock struct {
	baseModel.BaseModel
	UserID          string  `gorm:"type:uuid;index:idx_stock_locks_user_order" json:"userId"`
	OrderID         string  `gorm:"type:uuid;index:idx_stock_locks_user_order" json:"orderId"` // 指向 OrderGroup
	ProductID       string  `gorm:"type:uuid;index" json:"productId"`
	ColorID         *string `gorm:"type:uuid" json:"colorId,omitempty"`
	PatternID       *string `gorm:"type:uuid" json:"patternId,omitempty"`
	Quantity        int     `json:"quantity"`
	Type            string  `gorm:"default:'stock'" json:"type"`
	Status          string  `gorm:"default:'pristine';index" json:"status"`
	PaymentIntentID *string `gorm:"index" json:"paymentIntentId,omitempty"`
}

// LockTypeFor 返回履约方式对应的锁定类型
func LockTypeFor(shipLater bool) string {
	if shipLater {
		return LockTypeShipLaterStock
	}
	return LockTypeStock
}
