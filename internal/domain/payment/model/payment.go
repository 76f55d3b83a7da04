package model

import (
	baseModel "marketplace_backend/pkg/model"
)

// 支付事务状态。
// created/before_transit → in_transit（烧币已请求 / 网关转账已请求）→ charge_succeeded（已对账）
const (
	TxStatusCreated         = "created"
	TxStatusBeforeTransit   = "before_transit"
	TxStatusInTransit       = "in_transit"
	TxStatusChargeSucceeded = "charge_succeeded"
)

const (
	ItemTypeInstoreOrder = "instore_order"
)

// PaymentTransaction 一条支付腿：法币（刷卡）或积分。
// 每个 OrderGroup 至多两条，金额为零的腿不创建。
type PaymentTransaction struct {
	baseModel.BaseModel
	UserID         string  `gorm:"type:uuid;index" json:"userId"`
	Amount         int64   `json:"amount"`
	Currency       *string `json:"currency,omitempty"` // 仅法币腿
	GatewayFee     int64   `json:"gatewayFee"`
	PlatformFee    int64   `json:"platformFee"`
	TransferAmount int64   `json:"transferAmount"` // 转给卖家的部分
	Status         string  `gorm:"default:'created';index" json:"status"`

	PaymentIntentID *string `gorm:"index" json:"paymentIntentId,omitempty"`
	LedgerTxID      *string `gorm:"index" json:"ledgerTxId,omitempty"` // 积分腿的外部账本事务
	ItemType        string  `gorm:"default:'instore_order'" json:"itemType"`
}

// IsTokenLeg 是否积分腿（法币腿带币种）
func (t *PaymentTransaction) IsTokenLeg() bool {
	return t.Currency == nil
}

// PaymentTransfer 结算完成后向卖家打款的记录，每个 Order 一条
type PaymentTransfer struct {
	baseModel.BaseModel
	OrderID              string  `gorm:"type:uuid;index" json:"orderId"`
	PaymentTransactionID string  `gorm:"type:uuid;index" json:"paymentTransactionId"` // 法币腿
	TransferAmount       int64   `json:"transferAmount"`
	PlatformFee          int64   `json:"platformFee"`
	PlatformPercents     float64 `json:"platformPercents"`
	GatewayTransferID    *string `json:"gatewayTransferId,omitempty"`
	Status               string  `gorm:"default:'created'" json:"status"`
}
