package model

import (
	baseModel "marketplace_backend/pkg/model"
)

// Product 商品模型
type Product struct {
	baseModel.BaseModel
	ShopID              string  `gorm:"type:uuid;index" json:"shopId"`
	Title               string  `json:"title"`
	Status              string  `gorm:"default:'published'" json:"status"` // published, unpublished
	Price               int64   `json:"price"`                             // 税前单价
	Stock               int     `json:"stock"`                             // 店头库存
	ShipLaterStock      int     `json:"shipLaterStock"`                    // 后日配送库存
	ShippingFee         int64   `json:"shippingFee"`                       // 每件配送费（税込）
	OverseasShippingFee *int64  `json:"overseasShippingFee,omitempty"`     // 国际配送费，nil 表示不支持国际配送
	RewardPercent       float64 `json:"rewardPercent"`                     // 积分返还率（下单时快照到明细）
	HasParameters       bool    `json:"hasParameters"`

	Parameters []ProductParameter `gorm:"foreignKey:ProductID" json:"parameters,omitempty"`
}

// ProductParameter 商品可选属性（颜色/花纹）
type ProductParameter struct {
	baseModel.BaseModel
	ProductID string `gorm:"type:uuid;index" json:"productId"`
	Kind      string `json:"kind"` // color, pattern
	Value     string `json:"value"`
	Enabled   bool   `gorm:"default:true" json:"enabled"`
}

const (
	ProductStatusPublished   = "published"
	ProductStatusUnpublished = "unpublished"

	ParameterKindColor   = "color"
	ParameterKindPattern = "pattern"
)

// StockFor 返回指定履约方式的原始库存
func (p *Product) StockFor(shipLater bool) int {
	if shipLater {
		return p.ShipLaterStock
	}
	return p.Stock
}

// FindParameter 按 ID 查找属性，找不到返回 nil
func (p *Product) FindParameter(id string) *ProductParameter {
	for i := range p.Parameters {
		if p.Parameters[i].ID == id {
			return &p.Parameters[i]
		}
	}
	return nil
}
