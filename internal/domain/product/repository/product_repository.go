package repository

import (
	"errors"

	"marketplace_backend/internal/domain/product/model"

	"gorm.io/gorm"
)

var ErrInsufficientStock = errors.New("insufficient stock")

type ProductRepository interface {
	WithTx(tx *gorm.DB) ProductRepository
	GetByID(id string) (*model.Product, error)
	GetByIDs(ids []string) (map[string]*model.Product, error)
	// DecrementStock 相对扣减（stock = stock - qty），带余量守卫。
	// 并发结算只会按相对量竞争扣减，不做绝对值写入。
	DecrementStock(productID string, quantity int, shipLater bool) error
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) WithTx(tx *gorm.DB) ProductRepository {
	return &productRepository{db: tx}
}

func (r *productRepository) GetByID(id string) (*model.Product, error) {
	var product model.Product
	if err := r.db.Preload("Parameters").First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) GetByIDs(ids []string) (map[string]*model.Product, error) {
	var products []model.Product
	if err := r.db.Preload("Parameters").Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}

	result := make(map[string]*model.Product, len(products))
	for i := range products {
		result[products[i].ID] = &products[i]
	}
	return result, nil
}

func (r *productRepository) DecrementStock(productID string, quantity int, shipLater bool) error {
	column := "stock"
	if shipLater {
		column = "ship_later_stock"
	}

	result := r.db.Model(&model.Product{}).
		Where("id = ? AND "+column+" >= ?", productID, quantity).
		UpdateColumn(column, gorm.Expr(column+" - ?", quantity))

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientStock
	}
	return nil
}
