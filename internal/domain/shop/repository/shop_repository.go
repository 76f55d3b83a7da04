package repository

import (
	"marketplace_backend/internal/domain/shop/model"

	"gorm.io/gorm"
)

type ShopRepository interface {
	GetByID(id string) (*model.Shop, error)
	GetByIDs(ids []string) (map[string]*model.Shop, error)
}

type shopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) ShopRepository {
	return &shopRepository{db: db}
}

func (r *shopRepository) GetByID(id string) (*model.Shop, error) {
	var shop model.Shop
	if err := r.db.First(&shop, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *shopRepository) GetByIDs(ids []string) (map[string]*model.Shop, error) {
	var shops []model.Shop
	if err := r.db.Where("id IN ?", ids).Find(&shops).Error; err != nil {
		return nil, err
	}

	result := make(map[string]*model.Shop, len(shops))
	for i := range shops {
		result[shops[i].ID] = &shops[i]
	}
	return result, nil
}
