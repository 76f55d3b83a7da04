package service

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"marketplace_backend/internal/domain/order/model"
	"marketplace_backend/internal/domain/order/repository"
	productModel "marketplace_backend/internal/domain/product/model"
	productRepo "marketplace_backend/internal/domain/product/repository"
	shopRepo "marketplace_backend/internal/domain/shop/repository"
	"marketplace_backend/internal/pkg/config"
	"marketplace_backend/pkg/metrics"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotInProgress = errors.New("order is not in progress")
	ErrOrderNotOwned      = errors.New("order does not belong to user")
	ErrProductNotFound    = errors.New("product not found")
	ErrShopNotFound       = errors.New("shop not found")
	ErrValidationFailed   = errors.New("order validation failed")
	ErrDuplicateParameter = errors.New("duplicate parameter selection")
)

// PurchaseItem 购买请求中的一项
type PurchaseItem struct {
	ProductID string  `json:"productId" binding:"required"`
	ColorID   *string `json:"colorId"`
	PatternID *string `json:"patternId"`
	Quantity  int     `json:"quantity" binding:"required,min=1"`
	ShipLater bool    `json:"shipLater"`
}

// OrderService 订单聚合服务：构建、变更、持久化
// OrderGroup / Order / OrderDetail 层级，行项目变化时重算合计。
type OrderService interface {
	// Generate 从购物内容物化一个未持久化的聚合（此时不做库存锁定）
	Generate(sellerUserID string, items []PurchaseItem, address *model.ShippingAddress) (*model.OrderGroup, error)
	// Create 物化并持久化
	Create(sellerUserID string, items []PurchaseItem, address *model.ShippingAddress) (*model.OrderGroup, error)

	AddItem(userID, groupID string, item PurchaseItem) (*model.OrderGroup, error)
	RemoveItem(userID, groupID, detailID string) (*model.OrderGroup, error)

	// Refresh 按当前商品/店铺配置重算每条明细（已提交行的费率快照除外），
	// 重新校验库存与属性可用性。IN_PROGRESS 订单的每次读取都会经过这里，
	// 买家确认支付前看到的始终是按现价重算的合计。
	Refresh(group *model.OrderGroup) error
	// ValidateItems 逐行校验，结果写入明细的 Errors。warning 不阻断结账，error 阻断。
	ValidateItems(group *model.OrderGroup) error

	GetByID(id string) (*model.OrderGroup, error)
	GetByPaymentIntentID(intentID string) (*model.OrderGroup, error)
	GetByCode(code string) (*model.OrderGroup, error)
	ListSellerGroups(sellerUserID string, offset, limit int) ([]model.OrderGroup, int64, error)

	Cancel(userID, groupID string) error
	Delete(userID, groupID string) error

	// TimeoutStaleGroups 把超过间隔仍 IN_PROGRESS 的订单组批量置为 TIMEOUT
	TimeoutStaleGroups(intervalSeconds int) (int64, error)

	// ExportCSV 卖家已完成订单导出
	ExportCSV(sellerUserID string, from, to time.Time, w io.Writer) error
}

type orderService struct {
	orderRepo   repository.OrderRepository
	exportRepo  repository.ExportRepository
	productRepo productRepo.ProductRepository
	shopRepo    shopRepo.ShopRepository
	lockService LockService
}

func NewOrderService(
	orderRepo repository.OrderRepository,
	exportRepo repository.ExportRepository,
	pRepo productRepo.ProductRepository,
	sRepo shopRepo.ShopRepository,
	lockService LockService,
) OrderService {
	return &orderService{
		orderRepo:   orderRepo,
		exportRepo:  exportRepo,
		productRepo: pRepo,
		shopRepo:    sRepo,
		lockService: lockService,
	}
}

// generateCode 人类可读订单号
func generateCode() string {
	return time.Now().Format("20060102150405") + uuid.New().String()[:8]
}

// buildDetail 按当前商品/店铺配置构建明细（费率在此刻快照）
func (s *orderService) buildDetail(product *productModel.Product, platformFeePercent float64, item PurchaseItem, international bool) (*model.OrderDetail, error) {
	detail := &model.OrderDetail{
		ProductID:    product.ID,
		ProductTitle: product.Title,
		Quantity:     item.Quantity,
		ShipLater:    item.ShipLater,
		Price:        product.Price,

		PlatformFeePercent: platformFeePercent,
		RewardPercent:      product.RewardPercent,
	}

	if item.ColorID != nil {
		p := product.FindParameter(*item.ColorID)
		if p == nil {
			return nil, fmt.Errorf("%w: color %s", ErrProductNotFound, *item.ColorID)
		}
		detail.ColorID = item.ColorID
		detail.ColorValue = p.Value
	}
	if item.PatternID != nil {
		p := product.FindParameter(*item.PatternID)
		if p == nil {
			return nil, fmt.Errorf("%w: pattern %s", ErrProductNotFound, *item.PatternID)
		}
		detail.PatternID = item.PatternID
		detail.PatternValue = p.Value
	}

	shippingFee := product.ShippingFee
	if international {
		if product.OverseasShippingFee == nil {
			return nil, fmt.Errorf("product %s does not ship internationally", product.ID)
		}
		shippingFee = *product.OverseasShippingFee
	}

	price := PriceForItem(product.Price, item.Quantity, config.GetTaxPercents(), shippingFee*int64(item.Quantity))
	detail.PriceWithTax = price.PriceWithTax
	detail.TotalPrice = price.TotalPriceWithTax
	detail.ShippingFee = price.ShippingFeeWithTax

	_, gatewayFee := config.GetCoinRateAndGatewayFeePercents()
	detail.Transfer, _ = TransferAmount(price.Amount, gatewayFee, platformFeePercent)

	return detail, nil
}

// recomputeTotals 行项目变化后自下而上重算合计。
// 不变式：TotalAmount = Amount + ShippingFee；FiatAmount = TotalAmount − UsedTokens ≥ 0；
// 子订单合计之和等于订单组合计。
func recomputeTotals(group *model.OrderGroup) {
	group.Amount = 0
	group.ShippingFee = 0

	for i := range group.Orders {
		order := &group.Orders[i]
		order.Amount = 0
		order.ShippingFee = 0
		for j := range order.Details {
			order.Amount += order.Details[j].TotalPrice
			order.ShippingFee += order.Details[j].ShippingFee
		}
		order.TotalAmount = order.Amount + order.ShippingFee

		group.Amount += order.Amount
		group.ShippingFee += order.ShippingFee
	}

	group.TotalAmount = group.Amount + group.ShippingFee

	// 行被移除后已选用的积分可能超过新合计
	if group.UsedTokens > group.TotalAmount {
		group.UsedTokens = group.TotalAmount
	}
	group.FiatAmount = group.TotalAmount - group.UsedTokens
	group.EarnedTokens = AllocateRewards(group.AllDetails(), group.FiatAmount)
}

func (s *orderService) Generate(sellerUserID string, items []PurchaseItem, address *model.ShippingAddress) (*model.OrderGroup, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no purchase items", ErrValidationFailed)
	}

	group := &model.OrderGroup{
		Code:            generateCode(),
		SellerUserID:    sellerUserID,
		SellerType:      model.SellerTypeShop,
		Status:          model.StatusInProgress,
		ShippingAddress: address,
	}
	international := address.IsInternational()

	// 按（店铺, 履约方式）划分子订单
	type orderKey struct {
		shopID    string
		shipLater bool
	}
	orderIndex := make(map[orderKey]int)

	for _, item := range items {
		product, err := s.productRepo.GetByID(item.ProductID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
			}
			return nil, err
		}

		shop, err := s.shopRepo.GetByID(product.ShopID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrShopNotFound, product.ShopID)
			}
			return nil, err
		}

		detail, err := s.buildDetail(product, shop.PlatformFeePercent, item, international)
		if err != nil {
			return nil, err
		}

		k := orderKey{shop.ID, item.ShipLater}
		idx, ok := orderIndex[k]
		if !ok {
			group.Orders = append(group.Orders, model.Order{
				ShopID:             shop.ID,
				ShopTitle:          shop.Title,
				ShopEmail:          shop.Email,
				ShipLater:          item.ShipLater,
				Status:             model.StatusInProgress,
				PlatformFeePercent: shop.PlatformFeePercent,
			})
			idx = len(group.Orders) - 1
			orderIndex[k] = idx
		}
		group.Orders[idx].Details = append(group.Orders[idx].Details, *detail)
	}

	recomputeTotals(group)
	return group, nil
}

func (s *orderService) Create(sellerUserID string, items []PurchaseItem, address *model.ShippingAddress) (*model.OrderGroup, error) {
	group, err := s.Generate(sellerUserID, items, address)
	if err != nil {
		return nil, err
	}

	if err := s.ValidateItems(group); err != nil {
		return nil, err
	}

	if err := s.orderRepo.CreateGroup(group); err != nil {
		return nil, fmt.Errorf("persist order group: %w", err)
	}

	metrics.GetGlobalCollector().RecordOrderGroupCreated()
	return group, nil
}

func (s *orderService) loadInProgress(groupID string) (*model.OrderGroup, error) {
	group, err := s.orderRepo.GetGroupByID(groupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if group.IsTerminal() {
		return nil, ErrOrderNotInProgress
	}
	return group, nil
}

func checkOwnership(group *model.OrderGroup, userID string) error {
	if group.UserID != nil && *group.UserID != userID {
		return ErrOrderNotOwned
	}
	return nil
}

func (s *orderService) AddItem(userID, groupID string, item PurchaseItem) (*model.OrderGroup, error) {
	group, err := s.loadInProgress(groupID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(group, userID); err != nil {
		return nil, err
	}

	product, err := s.productRepo.GetByID(item.ProductID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, item.ProductID)
		}
		return nil, err
	}
	shop, err := s.shopRepo.GetByID(product.ShopID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShopNotFound, product.ShopID)
	}

	detail, err := s.buildDetail(product, shop.PlatformFeePercent, item, group.ShippingAddress.IsInternational())
	if err != nil {
		return nil, err
	}

	// 同一订单内不允许重复的属性选择
	for _, d := range group.AllDetails() {
		if d.ProductID == detail.ProductID && d.ShipLater == detail.ShipLater &&
			equalPtr(d.ColorID, detail.ColorID) && equalPtr(d.PatternID, detail.PatternID) {
			return nil, ErrDuplicateParameter
		}
	}

	// 只写动过的行，不重写整棵聚合
	err = s.orderRepo.Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)

		var target *model.Order
		for i := range group.Orders {
			if group.Orders[i].ShopID == shop.ID && group.Orders[i].ShipLater == item.ShipLater {
				target = &group.Orders[i]
				break
			}
		}
		if target == nil {
			newOrder := model.Order{
				OrderGroupID:       group.ID,
				ShopID:             shop.ID,
				ShopTitle:          shop.Title,
				ShopEmail:          shop.Email,
				ShipLater:          item.ShipLater,
				Status:             model.StatusInProgress,
				PlatformFeePercent: shop.PlatformFeePercent,
			}
			if err := repo.CreateOrder(&newOrder); err != nil {
				return err
			}
			group.Orders = append(group.Orders, newOrder)
			target = &group.Orders[len(group.Orders)-1]
		}

		detail.OrderID = target.ID
		if err := repo.CreateDetail(detail); err != nil {
			return err
		}
		target.Details = append(target.Details, *detail)

		recomputeTotals(group)
		if err := repo.UpdateOrderTotals(target); err != nil {
			return err
		}
		return repo.UpdateGroupTotals(group)
	})
	if err != nil {
		return nil, err
	}

	return group, nil
}

func (s *orderService) RemoveItem(userID, groupID, detailID string) (*model.OrderGroup, error) {
	group, err := s.loadInProgress(groupID)
	if err != nil {
		return nil, err
	}
	if err := checkOwnership(group, userID); err != nil {
		return nil, err
	}

	orderIdx, detailIdx := -1, -1
	for i := range group.Orders {
		for j := range group.Orders[i].Details {
			if group.Orders[i].Details[j].ID == detailID {
				orderIdx, detailIdx = i, j
			}
		}
	}
	if orderIdx < 0 {
		return nil, ErrOrderNotFound
	}

	err = s.orderRepo.Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)

		if err := repo.DeleteDetail(detailID); err != nil {
			return err
		}

		order := &group.Orders[orderIdx]
		order.Details = append(order.Details[:detailIdx], order.Details[detailIdx+1:]...)

		if len(order.Details) == 0 {
			if err := repo.DeleteOrder(order.ID); err != nil {
				return err
			}
			group.Orders = append(group.Orders[:orderIdx], group.Orders[orderIdx+1:]...)
			recomputeTotals(group)
			return repo.UpdateGroupTotals(group)
		}

		recomputeTotals(group)
		if err := repo.UpdateOrderTotals(order); err != nil {
			return err
		}
		return repo.UpdateGroupTotals(group)
	})
	if err != nil {
		return nil, err
	}

	return group, nil
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *orderService) Refresh(group *model.OrderGroup) error {
	if group.IsTerminal() {
		return nil
	}

	ids := make([]string, 0, len(group.AllDetails()))
	for _, d := range group.AllDetails() {
		ids = append(ids, d.ProductID)
	}
	products, err := s.productRepo.GetByIDs(ids)
	if err != nil {
		return fmt.Errorf("load products for refresh: %w", err)
	}

	international := group.ShippingAddress.IsInternational()
	taxPercent := config.GetTaxPercents()
	touched := false

	for _, d := range group.AllDetails() {
		product, ok := products[d.ProductID]
		if !ok || product.Status != productModel.ProductStatusPublished {
			// 校验阶段会生成 error 条目，这里不改动价格
			continue
		}

		shippingFee := product.ShippingFee
		if international && product.OverseasShippingFee != nil {
			shippingFee = *product.OverseasShippingFee
		}

		price := PriceForItem(product.Price, d.Quantity, taxPercent, shippingFee*int64(d.Quantity))
		if d.Price != product.Price || d.PriceWithTax != price.PriceWithTax ||
			d.TotalPrice != price.TotalPriceWithTax || d.ShippingFee != price.ShippingFeeWithTax {
			// 价格/配送费按现行配置重算；已提交行的
			// PlatformFeePercent / RewardPercent / Transfer 快照保持不变
			d.Price = product.Price
			d.PriceWithTax = price.PriceWithTax
			d.TotalPrice = price.TotalPriceWithTax
			d.ShippingFee = price.ShippingFeeWithTax
			touched = true

			if err := s.orderRepo.UpdateDetail(d); err != nil {
				return fmt.Errorf("persist refreshed detail: %w", err)
			}
		}
	}

	recomputeTotals(group)
	if touched {
		for i := range group.Orders {
			if err := s.orderRepo.UpdateOrderTotals(&group.Orders[i]); err != nil {
				return err
			}
		}
		if err := s.orderRepo.UpdateGroupTotals(group); err != nil {
			return err
		}
	}

	return s.ValidateItems(group)
}

func (s *orderService) ValidateItems(group *model.OrderGroup) error {
	details := group.AllDetails()

	ids := make([]string, 0, len(details))
	for _, d := range details {
		ids = append(ids, d.ProductID)
	}
	products, err := s.productRepo.GetByIDs(ids)
	if err != nil {
		return fmt.Errorf("load products for validation: %w", err)
	}

	type selectionKey struct {
		productID, colorID, patternID string
		shipLater                     bool
	}
	seen := make(map[selectionKey]bool)

	for _, d := range details {
		d.Errors = nil

		product, ok := products[d.ProductID]
		if !ok || product.Status != productModel.ProductStatusPublished {
			d.Errors = append(d.Errors, model.DetailError{
				Level:   model.DetailErrorLevelError,
				Code:    model.DetailErrProductUnavailable,
				Message: "product is no longer available",
			})
			continue
		}

		// 属性在加入购物车后被商品移除/停用 → warning，可继续结账
		for _, pid := range []*string{d.ColorID, d.PatternID} {
			if pid == nil {
				continue
			}
			p := product.FindParameter(*pid)
			if p == nil || !p.Enabled {
				d.Errors = append(d.Errors, model.DetailError{
					Level:   model.DetailErrorLevelWarning,
					Code:    model.DetailErrParameterUnavailable,
					Message: "selected parameter is no longer offered",
				})
			}
		}

		k := selectionKey{d.ProductID, strPtr(d.ColorID), strPtr(d.PatternID), d.ShipLater}
		if seen[k] {
			d.Errors = append(d.Errors, model.DetailError{
				Level:   model.DetailErrorLevelError,
				Code:    model.DetailErrDuplicateParameter,
				Message: "duplicate parameter selection in the same order",
			})
		}
		seen[k] = true
	}

	// 库存校验（委托锁定管理）
	userID := ""
	if group.UserID != nil {
		userID = *group.UserID
	}
	if err := s.lockService.CheckStock(details, userID, group.ID); err != nil {
		var conflict *StockConflictError
		if errors.As(err, &conflict) {
			code := model.DetailErrInsufficientStock
			if errors.Is(err, ErrOutOfStock) {
				code = model.DetailErrOutOfStock
			}
			for _, d := range details {
				if d.ProductID == conflict.ProductID {
					d.Errors = append(d.Errors, model.DetailError{
						Level:   model.DetailErrorLevelError,
						Code:    code,
						Message: conflict.Error(),
					})
				}
			}
		} else {
			return err
		}
	}

	return nil
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func (s *orderService) GetByID(id string) (*model.OrderGroup, error) {
	group, err := s.orderRepo.GetGroupByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if !group.IsTerminal() {
		if err := s.Refresh(group); err != nil {
			return nil, err
		}
	}
	return group, nil
}

func (s *orderService) GetByPaymentIntentID(intentID string) (*model.OrderGroup, error) {
	group, err := s.orderRepo.GetGroupByPaymentIntentID(intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if !group.IsTerminal() {
		if err := s.Refresh(group); err != nil {
			return nil, err
		}
	}
	return group, nil
}

func (s *orderService) GetByCode(code string) (*model.OrderGroup, error) {
	group, err := s.orderRepo.GetGroupByCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if !group.IsTerminal() {
		if err := s.Refresh(group); err != nil {
			return nil, err
		}
	}
	return group, nil
}

func (s *orderService) ListSellerGroups(sellerUserID string, offset, limit int) ([]model.OrderGroup, int64, error) {
	return s.orderRepo.ListGroupsBySeller(sellerUserID, offset, limit)
}

func (s *orderService) Cancel(userID, groupID string) error {
	group, err := s.loadInProgress(groupID)
	if err != nil {
		return err
	}
	if err := checkOwnership(group, userID); err != nil {
		return err
	}

	if err := s.orderRepo.UpdateStatusByGroup(groupID, model.StatusCanceled); err != nil {
		return err
	}
	// 取消后锁定立即归还
	return s.lockService.Release(userID, groupID)
}

func (s *orderService) Delete(userID, groupID string) error {
	group, err := s.loadInProgress(groupID)
	if err != nil {
		return err
	}
	if err := checkOwnership(group, userID); err != nil {
		return err
	}

	if err := s.lockService.Release(userID, groupID); err != nil {
		return err
	}
	return s.orderRepo.DeleteGroup(groupID)
}

func (s *orderService) TimeoutStaleGroups(intervalSeconds int) (int64, error) {
	return s.orderRepo.TimeoutStaleGroups(intervalSeconds)
}

var exportHeader = []string{
	"code", "shop", "product", "quantity", "total_price",
	"shipping_fee", "used_tokens", "fiat_amount", "ship_later", "completed_at",
}

func (s *orderService) ExportCSV(sellerUserID string, from, to time.Time, w io.Writer) error {
	rows, err := s.exportRepo.CompletedOrderRows(sellerUserID, from, to)
	if err != nil {
		return fmt.Errorf("load export rows: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, row := range rows {
		record := []string{
			row.Code,
			row.ShopTitle,
			row.ProductTitle,
			strconv.Itoa(row.Quantity),
			strconv.FormatInt(row.TotalPrice, 10),
			strconv.FormatInt(row.ShippingFee, 10),
			strconv.FormatInt(row.UsedTokens, 10),
			strconv.FormatInt(row.FiatAmount, 10),
			strconv.FormatBool(row.ShipLater),
			row.CompletedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
