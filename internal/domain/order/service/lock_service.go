package service

import (
	"errors"
	"fmt"

	"marketplace_backend/internal/domain/order/model"
	"marketplace_backend/internal/domain/order/repository"
	productRepo "marketplace_backend/internal/domain/product/repository"
	"marketplace_backend/pkg/metrics"

	"gorm.io/gorm"
)

var (
	// ErrOutOfStock 商品无可用库存
	ErrOutOfStock = errors.New("out of stock")
	// ErrInsufficientStock 可用库存少于请求数量
	ErrInsufficientStock = errors.New("insufficient stock")
)

// StockConflictError 库存冲突，带上冲突的商品便于客户端调整
type StockConflictError struct {
	ProductID string
	Requested int
	Available int
	reason    error
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("%v: product %s requested %d available %d",
		e.reason, e.ProductID, e.Requested, e.Available)
}

func (e *StockConflictError) Unwrap() error {
	return e.reason
}

// LockService 库存锁定管理。锁定是建议性持有，不是库存账本：
// 真实库存只在结算事务里扣减。
type LockService interface {
	// CheckStock 可用量 = 原始库存 − 其他 (user, order) 的 pristine/locked 锁定量。
	// 排除自身锁定，买家改数量时不会被自己挡住。
	CheckStock(details []*model.OrderDetail, userID, orderGroupID string) error
	// Reserve 删除该 (user, order) 旧锁定后按明细逐行插入，原子替换
	Reserve(tx *gorm.DB, userID string, group *model.OrderGroup, paymentIntentID string) error
	// Reconfirm 确认到达但锁定已丢失（过期被清扫）时的乐观重试路径：
	// 重新校验库存并重建锁定，失败则以冲突终止确认
	Reconfirm(userID string, group *model.OrderGroup, paymentIntentID string) error
	// MarkLocked 支付尝试开始，pristine → locked
	MarkLocked(userID, orderGroupID string) error
	// Release 结算后无条件删除锁定（成功或失败都调用），避免持有泄漏
	Release(userID, orderGroupID string) error
	// SweepExpired 删除仍处于指定状态且超过间隔的锁定，由后台清扫调用
	SweepExpired(status string, intervalSeconds int) (int64, error)
}

type lockService struct {
	lockRepo    repository.LockRepository
	productRepo productRepo.ProductRepository
}

func NewLockService(lockRepo repository.LockRepository, pRepo productRepo.ProductRepository) LockService {
	return &lockService{
		lockRepo:    lockRepo,
		productRepo: pRepo,
	}
}

// stockRequest 同一商品同一履约方式的请求量合并后校验
type stockRequest struct {
	productID string
	shipLater bool
	quantity  int
}

func groupStockRequests(details []*model.OrderDetail) []stockRequest {
	type key struct {
		productID string
		shipLater bool
	}

	order := make([]key, 0, len(details))
	sums := make(map[key]int, len(details))
	for _, d := range details {
		k := key{d.ProductID, d.ShipLater}
		if _, seen := sums[k]; !seen {
			order = append(order, k)
		}
		sums[k] += d.Quantity
	}

	requests := make([]stockRequest, 0, len(order))
	for _, k := range order {
		requests = append(requests, stockRequest{k.productID, k.shipLater, sums[k]})
	}
	return requests
}

func (s *lockService) CheckStock(details []*model.OrderDetail, userID, orderGroupID string) error {
	requests := groupStockRequests(details)

	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		ids = append(ids, req.productID)
	}
	products, err := s.productRepo.GetByIDs(ids)
	if err != nil {
		return fmt.Errorf("load products for stock check: %w", err)
	}

	for _, req := range requests {
		product, ok := products[req.productID]
		if !ok {
			return &StockConflictError{ProductID: req.productID, Requested: req.quantity, reason: ErrOutOfStock}
		}

		raw := product.StockFor(req.shipLater)
		lockType := model.LockTypeFor(req.shipLater)

		reserved, err := s.lockRepo.SumActiveQuantity(req.productID, lockType, userID, orderGroupID)
		if err != nil {
			return fmt.Errorf("sum active locks: %w", err)
		}

		available := raw - reserved
		if available <= 0 {
			metrics.GetGlobalCollector().RecordStockConflict("out_of_stock")
			return &StockConflictError{ProductID: req.productID, Requested: req.quantity, Available: 0, reason: ErrOutOfStock}
		}
		if req.quantity > available {
			metrics.GetGlobalCollector().RecordStockConflict("insufficient")
			return &StockConflictError{ProductID: req.productID, Requested: req.quantity, Available: available, reason: ErrInsufficientStock}
		}
	}

	return nil
}

func (s *lockService) Reserve(tx *gorm.DB, userID string, group *model.OrderGroup, paymentIntentID string) error {
	repo := s.lockRepo
	if tx != nil {
		repo = s.lockRepo.WithTx(tx)
	}

	if err := repo.DeleteByUserAndOrder(userID, group.ID); err != nil {
		return fmt.Errorf("delete prior locks: %w", err)
	}

	var locks []*model.ProductStockLock
	for _, d := range group.AllDetails() {
		lock := &model.ProductStockLock{
			UserID:    userID,
			OrderID:   group.ID,
			ProductID: d.ProductID,
			ColorID:   d.ColorID,
			PatternID: d.PatternID,
			Quantity:  d.Quantity,
			Type:      model.LockTypeFor(d.ShipLater),
			Status:    model.LockStatusPristine,
		}
		if paymentIntentID != "" {
			id := paymentIntentID
			lock.PaymentIntentID = &id
		}
		locks = append(locks, lock)
	}

	if err := repo.BulkCreate(locks); err != nil {
		return fmt.Errorf("create locks: %w", err)
	}
	return nil
}

func (s *lockService) Reconfirm(userID string, group *model.OrderGroup, paymentIntentID string) error {
	if err := s.CheckStock(group.AllDetails(), userID, group.ID); err != nil {
		return err
	}
	return s.Reserve(nil, userID, group, paymentIntentID)
}

func (s *lockService) MarkLocked(userID, orderGroupID string) error {
	return s.lockRepo.UpdateStatus(userID, orderGroupID, model.LockStatusLocked)
}

func (s *lockService) Release(userID, orderGroupID string) error {
	return s.lockRepo.DeleteByUserAndOrder(userID, orderGroupID)
}

func (s *lockService) SweepExpired(status string, intervalSeconds int) (int64, error) {
	return s.lockRepo.DeleteOlderThan(status, intervalSeconds)
}
