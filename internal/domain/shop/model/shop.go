package model

import (
	baseModel "marketplace_backend/pkg/model"
)

// Shop 店铺模型
type Shop struct {
	baseModel.BaseModel
	UserID             string  `gorm:"type:uuid;index" json:"userId"` // 卖家
	Title              string  `json:"title"`
	Email              string  `json:"email"`
	Status             string  `gorm:"default:'published'" json:"status"`
	PlatformFeePercent float64 `json:"platformFeePercent"` // 当前平台抽成率，下单时快照到明细
}

const (
	ShopStatusPublished   = "published"
	ShopStatusUnpublished = "unpublished"
)
