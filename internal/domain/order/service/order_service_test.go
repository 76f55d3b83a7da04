package service

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"marketplace_backend/internal/domain/order/model"
	"marketplace_backend/internal/domain/order/repository"
	productModel "marketplace_backend/internal/domain/product/model"
	shopModel "marketplace_backend/internal/domain/shop/model"
	"marketplace_backend/internal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"
)

// MockOrderRepository is a mock of OrderRepository
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) WithTx(tx *gorm.DB) repository.OrderRepository {
	return m
}

func (m *MockOrderRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (m *MockOrderRepository) CreateGroup(group *model.OrderGroup) error {
	args := m.Called(group)
	return args.Error(0)
}

func (m *MockOrderRepository) GetGroupByID(id string) (*model.OrderGroup, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OrderGroup), args.Error(1)
}

func (m *MockOrderRepository) GetGroupByPaymentIntentID(intentID string) (*model.OrderGroup, error) {
	args := m.Called(intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OrderGroup), args.Error(1)
}

func (m *MockOrderRepository) GetGroupByCode(code string) (*model.OrderGroup, error) {
	args := m.Called(code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.OrderGroup), args.Error(1)
}

func (m *MockOrderRepository) ListGroupsBySeller(sellerUserID string, offset, limit int) ([]model.OrderGroup, int64, error) {
	args := m.Called(sellerUserID, offset, limit)
	return args.Get(0).([]model.OrderGroup), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) UpdateGroupTotals(group *model.OrderGroup) error {
	args := m.Called(group)
	return args.Error(0)
}

func (m *MockOrderRepository) CreateOrder(order *model.Order) error {
	args := m.Called(order)
	return args.Error(0)
}

func (m *MockOrderRepository) UpdateOrderTotals(order *model.Order) error {
	args := m.Called(order)
	return args.Error(0)
}

func (m *MockOrderRepository) DeleteOrder(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockOrderRepository) CreateDetail(detail *model.OrderDetail) error {
	args := m.Called(detail)
	return args.Error(0)
}

func (m *MockOrderRepository) UpdateDetail(detail *model.OrderDetail) error {
	args := m.Called(detail)
	return args.Error(0)
}

func (m *MockOrderRepository) DeleteDetail(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockOrderRepository) DeleteGroup(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockOrderRepository) AttachPaymentIntent(groupID, intentID string) error {
	args := m.Called(groupID, intentID)
	return args.Error(0)
}

func (m *MockOrderRepository) UpdateStatusByGroup(groupID, status string) error {
	args := m.Called(groupID, status)
	return args.Error(0)
}

func (m *MockOrderRepository) SetGroupPaymentTransaction(groupID, paymentTransactionID string) error {
	args := m.Called(groupID, paymentTransactionID)
	return args.Error(0)
}

func (m *MockOrderRepository) TimeoutStaleGroups(intervalSeconds int) (int64, error) {
	args := m.Called(intervalSeconds)
	return args.Get(0).(int64), args.Error(1)
}

// MockExportRepository is a mock of ExportRepository
type MockExportRepository struct {
	mock.Mock
}

func (m *MockExportRepository) CompletedOrderRows(sellerUserID string, from, to time.Time) ([]repository.ExportRow, error) {
	args := m.Called(sellerUserID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.ExportRow), args.Error(1)
}

// MockShopRepository is a mock of ShopRepository
type MockShopRepository struct {
	mock.Mock
}

func (m *MockShopRepository) GetByID(id string) (*shopModel.Shop, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*shopModel.Shop), args.Error(1)
}

func (m *MockShopRepository) GetByIDs(ids []string) (map[string]*shopModel.Shop, error) {
	args := m.Called(ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]*shopModel.Shop), args.Error(1)
}

// MockLockService is a mock of LockService
type MockLockService struct {
	mock.Mock
}

func (m *MockLockService) CheckStock(details []*model.OrderDetail, userID, orderGroupID string) error {
	args := m.Called(details, userID, orderGroupID)
	return args.Error(0)
}

func (m *MockLockService) Reserve(tx *gorm.DB, userID string, group *model.OrderGroup, paymentIntentID string) error {
	args := m.Called(tx, userID, group, paymentIntentID)
	return args.Error(0)
}

func (m *MockLockService) Reconfirm(userID string, group *model.OrderGroup, paymentIntentID string) error {
	args := m.Called(userID, group, paymentIntentID)
	return args.Error(0)
}

func (m *MockLockService) MarkLocked(userID, orderGroupID string) error {
	args := m.Called(userID, orderGroupID)
	return args.Error(0)
}

func (m *MockLockService) Release(userID, orderGroupID string) error {
	args := m.Called(userID, orderGroupID)
	return args.Error(0)
}

func (m *MockLockService) SweepExpired(status string, intervalSeconds int) (int64, error) {
	args := m.Called(status, intervalSeconds)
	return args.Get(0).(int64), args.Error(1)
}

func setPaymentConfig(t *testing.T) {
	t.Helper()
	prev := config.GlobalConfig.Payment
	config.GlobalConfig.Payment = config.PaymentConfig{
		TaxPercent:         10,
		GatewayFeePercent:  3.6,
		PlatformFeePercent: 20,
		CoinRewardPercent:  1,
		Currency:           "jpy",
	}
	t.Cleanup(func() { config.GlobalConfig.Payment = prev })
}

func publishedProduct(id, shopID string, price int64, shippingFee int64) *productModel.Product {
	p := &productModel.Product{
		ShopID:        shopID,
		Title:         "product " + id,
		Status:        productModel.ProductStatusPublished,
		Price:         price,
		Stock:         100,
		ShippingFee:   shippingFee,
		RewardPercent: 1,
	}
	p.ID = id
	return p
}

func testShop(id string, feePercent float64) *shopModel.Shop {
	s := &shopModel.Shop{
		UserID:             "seller-1",
		Title:              "shop " + id,
		Email:              id + "@example.com",
		Status:             shopModel.ShopStatusPublished,
		PlatformFeePercent: feePercent,
	}
	s.ID = id
	return s
}

func newTestOrderService(t *testing.T) (*MockOrderRepository, *MockExportRepository, *MockProductRepository, *MockShopRepository, *MockLockService, OrderService) {
	t.Helper()
	oRepo := new(MockOrderRepository)
	eRepo := new(MockExportRepository)
	pRepo := new(MockProductRepository)
	sRepo := new(MockShopRepository)
	lSvc := new(MockLockService)
	return oRepo, eRepo, pRepo, sRepo, lSvc, NewOrderService(oRepo, eRepo, pRepo, sRepo, lSvc)
}

func TestGenerateSplitsOrdersByShopAndFulfillment(t *testing.T) {
	setPaymentConfig(t)
	_, _, pRepo, sRepo, _, svc := newTestOrderService(t)

	pRepo.On("GetByID", "p1").Return(publishedProduct("p1", "shop1", 1000, 0), nil)
	pRepo.On("GetByID", "p2").Return(publishedProduct("p2", "shop1", 500, 300), nil)
	pRepo.On("GetByID", "p3").Return(publishedProduct("p3", "shop2", 2000, 0), nil)
	sRepo.On("GetByID", "shop1").Return(testShop("shop1", 20), nil)
	sRepo.On("GetByID", "shop2").Return(testShop("shop2", 15), nil)

	group, err := svc.Generate("seller-1", []PurchaseItem{
		{ProductID: "p1", Quantity: 1},
		{ProductID: "p2", Quantity: 2, ShipLater: true},
		{ProductID: "p3", Quantity: 1},
	}, nil)

	assert.NoError(t, err)
	// shop1 pickup, shop1 ship-later, shop2 pickup
	assert.Len(t, group.Orders, 3)
	assert.Equal(t, model.StatusInProgress, group.Status)
	assert.NotEmpty(t, group.Code)

	// 1100 + 550*2 + 2200 products, 300*2 shipping
	assert.Equal(t, int64(4400), group.Amount)
	assert.Equal(t, int64(600), group.ShippingFee)
	assert.Equal(t, int64(5000), group.TotalAmount)
	assert.Equal(t, group.TotalAmount, group.Amount+group.ShippingFee)

	var orderSum int64
	for _, o := range group.Orders {
		assert.Equal(t, o.TotalAmount, o.Amount+o.ShippingFee)
		orderSum += o.TotalAmount
	}
	assert.Equal(t, group.TotalAmount, orderSum)
}

func TestGenerateSnapshotsRatesOnDetails(t *testing.T) {
	setPaymentConfig(t)
	_, _, pRepo, sRepo, _, svc := newTestOrderService(t)

	product := publishedProduct("p1", "shop1", 1000, 0)
	product.RewardPercent = 5
	pRepo.On("GetByID", "p1").Return(product, nil)
	sRepo.On("GetByID", "shop1").Return(testShop("shop1", 25), nil)

	group, err := svc.Generate("seller-1", []PurchaseItem{{ProductID: "p1", Quantity: 1}}, nil)

	assert.NoError(t, err)
	d := group.AllDetails()[0]
	assert.Equal(t, 25.0, d.PlatformFeePercent)
	assert.Equal(t, 5.0, d.RewardPercent)
	// transfer snapshot: 1100 * (100 - 3.6 - 25) / 100 = 785.4 -> 785
	assert.Equal(t, int64(785), d.Transfer)
}

func TestGenerateInternationalShippingFee(t *testing.T) {
	setPaymentConfig(t)
	_, _, pRepo, sRepo, _, svc := newTestOrderService(t)

	overseas := int64(2000)
	product := publishedProduct("p1", "shop1", 1000, 300)
	product.OverseasShippingFee = &overseas
	pRepo.On("GetByID", "p1").Return(product, nil)
	sRepo.On("GetByID", "shop1").Return(testShop("shop1", 20), nil)

	addr := &model.ShippingAddress{Country: "US"}
	group, err := svc.Generate("seller-1", []PurchaseItem{{ProductID: "p1", Quantity: 2, ShipLater: true}}, addr)

	assert.NoError(t, err)
	assert.Equal(t, int64(4000), group.ShippingFee)
}

func TestGenerateInternationalRejectsDomesticOnlyProduct(t *testing.T) {
	setPaymentConfig(t)
	_, _, pRepo, sRepo, _, svc := newTestOrderService(t)

	pRepo.On("GetByID", "p1").Return(publishedProduct("p1", "shop1", 1000, 300), nil)
	sRepo.On("GetByID", "shop1").Return(testShop("shop1", 20), nil)

	addr := &model.ShippingAddress{Country: "US"}
	_, err := svc.Generate("seller-1", []PurchaseItem{{ProductID: "p1", Quantity: 1, ShipLater: true}}, addr)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "internationally")
}

func TestRecomputeTotalsClampsUsedTokens(t *testing.T) {
	group := &model.OrderGroup{
		UsedTokens: 5000,
		Orders: []model.Order{{
			Details: []model.OrderDetail{{TotalPrice: 1000, ShippingFee: 200}},
		}},
	}

	recomputeTotals(group)

	assert.Equal(t, int64(1200), group.TotalAmount)
	assert.Equal(t, int64(1200), group.UsedTokens)
	assert.Equal(t, int64(0), group.FiatAmount)
}

func TestValidateItemsFlagsUnavailableProduct(t *testing.T) {
	_, _, pRepo, _, lSvc, svc := newTestOrderService(t)

	unpublished := publishedProduct("p1", "shop1", 1000, 0)
	unpublished.Status = productModel.ProductStatusUnpublished
	pRepo.On("GetByIDs", []string{"p1"}).Return(
		map[string]*productModel.Product{"p1": unpublished}, nil)
	lSvc.On("CheckStock", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	group := &model.OrderGroup{
		Orders: []model.Order{{
			Details: []model.OrderDetail{{ProductID: "p1", Quantity: 1}},
		}},
	}

	err := svc.ValidateItems(group)

	assert.NoError(t, err)
	d := group.AllDetails()[0]
	assert.True(t, d.HasFatalError())
	assert.Equal(t, model.DetailErrProductUnavailable, d.Errors[0].Code)
}

func TestValidateItemsDisabledParameterIsWarning(t *testing.T) {
	_, _, pRepo, _, lSvc, svc := newTestOrderService(t)

	product := publishedProduct("p1", "shop1", 1000, 0)
	param := productModel.ProductParameter{Kind: productModel.ParameterKindColor, Value: "red", Enabled: false}
	param.ID = "c1"
	product.Parameters = []productModel.ProductParameter{param}

	pRepo.On("GetByIDs", []string{"p1"}).Return(
		map[string]*productModel.Product{"p1": product}, nil)
	lSvc.On("CheckStock", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	colorID := "c1"
	group := &model.OrderGroup{
		Orders: []model.Order{{
			Details: []model.OrderDetail{{ProductID: "p1", ColorID: &colorID, Quantity: 1}},
		}},
	}

	err := svc.ValidateItems(group)

	assert.NoError(t, err)
	d := group.AllDetails()[0]
	assert.False(t, d.HasFatalError())
	assert.Equal(t, model.DetailErrorLevelWarning, d.Errors[0].Level)
	assert.Equal(t, model.DetailErrParameterUnavailable, d.Errors[0].Code)
}

func TestValidateItemsFlagsDuplicateSelection(t *testing.T) {
	_, _, pRepo, _, lSvc, svc := newTestOrderService(t)

	pRepo.On("GetByIDs", mock.Anything).Return(
		map[string]*productModel.Product{"p1": publishedProduct("p1", "shop1", 1000, 0)}, nil)
	lSvc.On("CheckStock", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	group := &model.OrderGroup{
		Orders: []model.Order{{
			Details: []model.OrderDetail{
				{ProductID: "p1", Quantity: 1},
				{ProductID: "p1", Quantity: 2},
			},
		}},
	}

	err := svc.ValidateItems(group)

	assert.NoError(t, err)
	details := group.AllDetails()
	assert.False(t, details[0].HasFatalError())
	assert.True(t, details[1].HasFatalError())
	assert.Equal(t, model.DetailErrDuplicateParameter, details[1].Errors[0].Code)
}

func TestValidateItemsMapsStockConflictToDetail(t *testing.T) {
	_, _, pRepo, _, lSvc, svc := newTestOrderService(t)

	pRepo.On("GetByIDs", mock.Anything).Return(
		map[string]*productModel.Product{"p1": publishedProduct("p1", "shop1", 1000, 0)}, nil)
	lSvc.On("CheckStock", mock.Anything, mock.Anything, mock.Anything).Return(
		&StockConflictError{ProductID: "p1", Requested: 5, Available: 2, reason: ErrInsufficientStock})

	group := &model.OrderGroup{
		Orders: []model.Order{{
			Details: []model.OrderDetail{{ProductID: "p1", Quantity: 5}},
		}},
	}

	err := svc.ValidateItems(group)

	assert.NoError(t, err)
	d := group.AllDetails()[0]
	assert.True(t, d.HasFatalError())
	assert.Equal(t, model.DetailErrInsufficientStock, d.Errors[0].Code)
}

func TestCancelReleasesLocks(t *testing.T) {
	oRepo, _, _, _, lSvc, svc := newTestOrderService(t)

	userID := "u1"
	group := &model.OrderGroup{UserID: &userID, Status: model.StatusInProgress}
	group.ID = "g1"

	oRepo.On("GetGroupByID", "g1").Return(group, nil)
	oRepo.On("UpdateStatusByGroup", "g1", model.StatusCanceled).Return(nil)
	lSvc.On("Release", "u1", "g1").Return(nil)

	err := svc.Cancel("u1", "g1")

	assert.NoError(t, err)
	oRepo.AssertExpectations(t)
	lSvc.AssertExpectations(t)
}

func TestCancelRejectsForeignOrder(t *testing.T) {
	oRepo, _, _, _, _, svc := newTestOrderService(t)

	owner := "someone-else"
	group := &model.OrderGroup{UserID: &owner, Status: model.StatusInProgress}
	group.ID = "g1"
	oRepo.On("GetGroupByID", "g1").Return(group, nil)

	err := svc.Cancel("u1", "g1")

	assert.ErrorIs(t, err, ErrOrderNotOwned)
}

func TestCancelTerminalOrderFails(t *testing.T) {
	oRepo, _, _, _, _, svc := newTestOrderService(t)

	group := &model.OrderGroup{Status: model.StatusCompleted}
	group.ID = "g1"
	oRepo.On("GetGroupByID", "g1").Return(group, nil)

	err := svc.Cancel("u1", "g1")

	assert.ErrorIs(t, err, ErrOrderNotInProgress)
}

func TestTimeoutStaleGroupsDelegates(t *testing.T) {
	oRepo, _, _, _, _, svc := newTestOrderService(t)

	oRepo.On("TimeoutStaleGroups", 3600).Return(int64(7), nil)

	n, err := svc.TimeoutStaleGroups(3600)

	assert.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestExportCSVWritesHeaderAndRows(t *testing.T) {
	_, eRepo, _, _, _, svc := newTestOrderService(t)

	completed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	eRepo.On("CompletedOrderRows", "seller-1", mock.Anything, mock.Anything).Return(
		[]repository.ExportRow{{
			Code:         "20260801120000abcd1234",
			ShopTitle:    "shop one",
			ProductTitle: "widget",
			Quantity:     2,
			TotalPrice:   2200,
			ShippingFee:  300,
			UsedTokens:   500,
			FiatAmount:   2000,
			ShipLater:    true,
			CompletedAt:  completed,
		}}, nil)

	var buf bytes.Buffer
	err := svc.ExportCSV("seller-1", time.Time{}, time.Now(), &buf)

	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "code")
	assert.Contains(t, lines[1], "widget")
	assert.Contains(t, lines[1], "2200")
	assert.Contains(t, lines[1], "true")
}
