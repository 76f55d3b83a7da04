package model

import (
	baseModel "marketplace_backend/pkg/model"
)

// 订单生命周期状态（OrderGroup 与 Order 镜像）
// 三个终态均为单向流转，不会回到 in_progress
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCanceled   = "canceled"
	StatusTimeout    = "timeout"
)

const (
	SellerTypeShop = "shop"
)

// ShippingAddress 下单时的收货地址快照
type ShippingAddress struct {
	Name        string `json:"name"`
	PostalCode  string `json:"postalCode"`
	Country     string `json:"country"` // ISO 两位国家码，空或 JP 视为国内
	State       string `json:"state"`
	City        string `json:"city"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2"`
	PhoneNumber string `json:"phoneNumber"`
}

// IsInternational 是否国际配送（地址存在且国家码非 JP）
func (a *ShippingAddress) IsInternational() bool {
	return a != nil && a.Country != "" && a.Country != "JP"
}

// OrderGroup 一次结账事务，买家对多个店铺/履约方式的订单集合
type OrderGroup struct {
	baseModel.BaseModel
	Code         string  `gorm:"uniqueIndex" json:"code"`
	SellerUserID string  `gorm:"type:uuid;index" json:"sellerUserId"`
	SellerType   string  `gorm:"default:'shop'" json:"sellerType"`
	UserID       *string `gorm:"type:uuid;index" json:"userId"` // 买家认领结账前为空
	Status       string  `gorm:"default:'in_progress';index" json:"status"`

	Amount       int64 `json:"amount"`      // 商品金额（税込）
	ShippingFee  int64 `json:"shippingFee"` // 配送费合计
	TotalAmount  int64 `json:"totalAmount"` // Amount + ShippingFee
	UsedTokens   int64 `json:"usedTokens"`
	FiatAmount   int64 `json:"fiatAmount"` // TotalAmount - UsedTokens
	EarnedTokens int64 `json:"earnedTokens"`

	ShippingAddress *ShippingAddress `gorm:"embedded;embeddedPrefix:shipping_" json:"shippingAddress,omitempty"`

	PaymentIntentID      *string `gorm:"index" json:"paymentIntentId,omitempty"`
	PaymentTransactionID *string `json:"paymentTransactionId,omitempty"`

	Orders []Order `gorm:"foreignKey:OrderGroupID;constraint:OnDelete:CASCADE" json:"orders"`
}

// Order OrderGroup 内按（店铺, 履约方式）划分的子订单
type Order struct {
	baseModel.BaseModel
	OrderGroupID string `gorm:"type:uuid;index" json:"orderGroupId"`
	ShopID       string `gorm:"type:uuid;index" json:"shopId"`
	ShopTitle    string `json:"shopTitle"` // 下单时店铺快照
	ShopEmail    string `json:"shopEmail"`
	ShipLater    bool   `json:"shipLater"` // false=店头受取, true=后日配送
	Status       string `gorm:"default:'in_progress'" json:"status"`

	Amount      int64 `json:"amount"`
	ShippingFee int64 `json:"shippingFee"`
	TotalAmount int64 `json:"totalAmount"`

	PlatformFeePercent float64 `json:"platformFeePercent"` // 下单时店铺抽成率快照

	PaymentIntentID *string `json:"paymentIntentId,omitempty"`

	Details []OrderDetail `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"details"`
}

// 明细校验结果级别：warning 不阻断结账，error 阻断
const (
	DetailErrorLevelWarning = "warning"
	DetailErrorLevelError   = "error"
)

// 明细校验错误码（枚举消息，供客户端分支处理）
const (
	DetailErrProductUnavailable   = "PRODUCT_UNAVAILABLE"
	DetailErrParameterUnavailable = "PARAMETER_UNAVAILABLE"
	DetailErrDuplicateParameter   = "DUPLICATE_PARAMETER"
	DetailErrOutOfStock           = "OUT_OF_STOCK"
	DetailErrInsufficientStock    = "INSUFFICIENT_STOCK"
)

// DetailError 明细级校验条目，每次读取 IN_PROGRESS 订单时重新计算，不落库
type DetailError struct {
	Level   string `json:"level"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OrderDetail 购买行项目（商品 + 所选属性）
type OrderDetail struct {
	baseModel.BaseModel
	OrderID      string  `gorm:"type:uuid;index" json:"orderId"`
	ProductID    string  `gorm:"type:uuid;index" json:"productId"`
	ProductTitle string  `json:"productTitle"`
	ColorID      *string `gorm:"type:uuid" json:"colorId,omitempty"`
	ColorValue   string  `json:"colorValue,omitempty"`
	PatternID    *string `gorm:"type:uuid" json:"patternId,omitempty"`
	PatternValue string  `json:"patternValue,omitempty"`
	Quantity     int     `json:"quantity"`
	ShipLater    bool    `json:"shipLater"`

	Price        int64 `json:"price"`        // 税前单价
	PriceWithTax int64 `json:"priceWithTax"` // 税込単価（四舍五入后）
	TotalPrice   int64 `json:"totalPrice"`   // PriceWithTax × Quantity
	ShippingFee  int64 `json:"shippingFee"`

	// 下单时快照，此后商品/店铺配置变更不影响已提交的行
	PlatformFeePercent float64 `json:"platformFeePercent"`
	RewardPercent      float64 `json:"rewardPercent"`
	Transfer           int64   `json:"transfer"` // 下单时费率计算出的卖家到账额

	FiatAmount   int64 `json:"fiatAmount"`
	UsedTokens   int64 `json:"usedTokens"`
	EarnedTokens int64 `json:"earnedTokens"`

	PaymentIntentID *string `json:"paymentIntentId,omitempty"`

	Errors []DetailError `gorm:"-" json:"errors,omitempty"`
}

// Amount 行金额 = 税込商品金额 + 配送费，积分分摊以此为单位
func (d *OrderDetail) Amount() int64 {
	return d.TotalPrice + d.ShippingFee
}

// HasFatalError 是否存在阻断结账的校验错误
func (d *OrderDetail) HasFatalError() bool {
	for _, e := range d.Errors {
		if e.Level == DetailErrorLevelError {
			return true
		}
	}
	return false
}

// IsTerminal 订单组是否已处于终态
func (g *OrderGroup) IsTerminal() bool {
	return g.Status != StatusInProgress
}

// AllDetails 展平所有子订单明细
func (g *OrderGroup) AllDetails() []*OrderDetail {
	var details []*OrderDetail
	for i := range g.Orders {
		for j := range g.Orders[i].Details {
			details = append(details, &g.Orders[i].Details[j])
		}
	}
	return details
}

// HasShipLaterItems 是否包含后日配送明细
func (g *OrderGroup) HasShipLaterItems() bool {
	for _, d := range g.AllDetails() {
		if d.ShipLater {
			return true
		}
	}
	return false
}
