package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	orderModel "marketplace_backend/internal/domain/order/model"
	orderRepo "marketplace_backend/internal/domain/order/repository"
	orderService "marketplace_backend/internal/domain/order/service"
	"marketplace_backend/internal/domain/payment/gateway"
	"marketplace_backend/internal/domain/payment/ledger"
	"marketplace_backend/internal/domain/payment/model"
	"marketplace_backend/internal/domain/payment/repository"
	productRepo "marketplace_backend/internal/domain/product/repository"
	shopRepo "marketplace_backend/internal/domain/shop/repository"
	"marketplace_backend/internal/pkg/config"
	"marketplace_backend/internal/pkg/notification"
	"marketplace_backend/internal/pkg/push"
	"marketplace_backend/pkg/logger"
	"marketplace_backend/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrSelfPurchase         = errors.New("seller cannot purchase own order")
	ErrTotalsMismatch       = errors.New("declared totals do not match order")
	ErrInvalidTokens        = errors.New("used tokens out of range")
	ErrShippingAddrRequired = errors.New("shipping address required for ship-later items")
	ErrOrderHasErrors       = errors.New("order has blocking validation errors")
	ErrReservationExpired   = errors.New("stock reservation expired")
	ErrDuplicateConfirm     = errors.New("payment confirm already in progress")
)

// localIntentPrefix 零法币订单不经过网关，本地合成 intent id
const localIntentPrefix = "local_"

// CreateIntentRequest 结账请求。Amount / TotalAmount 是客户端声明值，
// 服务端重算后不一致则拒绝（防篡改，也捕获结账期间的价格变更）。
type CreateIntentRequest struct {
	OrderGroupID string `json:"orderGroupId" binding:"required"`
	UsedTokens   int64  `json:"usedTokens"`
	Amount       int64  `json:"amount" binding:"required"`
	TotalAmount  int64  `json:"totalAmount" binding:"required"`
}

// CreateIntentResult 返回给客户端的结账结果
type CreateIntentResult struct {
	PaymentIntentID string                 `json:"paymentIntentId"`
	RequiresCharge  bool                   `json:"requiresCharge"` // false = 纯积分支付，客户端直接调确认
	Group           *orderModel.OrderGroup `json:"orderGroup"`
}

// PaymentService 支付编排：结账（建腿 + 锁库存 + 网关 intent）
// 与确认（烧币 + 打款 + 结算事务 + 通知）。
type PaymentService interface {
	CreateIntent(ctx context.Context, userID string, req CreateIntentRequest) (*CreateIntentResult, error)
	// Confirm 网关 webhook 或纯积分订单的客户端回调。幂等：
	// 重复投递短路返回，失败释放去重键允许重试。
	Confirm(ctx context.Context, intentID string) error
	ListPaymentMethods(userID string) ([]gateway.PaymentMethod, error)
	// ReconcileInTransit 轮询账本，把烧币已达终态的积分腿推进到 charge_succeeded
	ReconcileInTransit() (int, error)
}

type paymentService struct {
	paymentRepo  repository.PaymentRepository
	idempotency  repository.IdempotencyStore
	orderRepo    orderRepo.OrderRepository
	lockRepo     orderRepo.LockRepository
	productRepo  productRepo.ProductRepository
	shopRepo     shopRepo.ShopRepository
	orderService orderService.OrderService
	lockService  orderService.LockService
	gateway      gateway.PaymentGateway
	ledger       ledger.TokenLedger
	email        notification.EmailService
}

func NewPaymentService(
	paymentRepo repository.PaymentRepository,
	idempotency repository.IdempotencyStore,
	oRepo orderRepo.OrderRepository,
	lRepo orderRepo.LockRepository,
	pRepo productRepo.ProductRepository,
	sRepo shopRepo.ShopRepository,
	oService orderService.OrderService,
	lockService orderService.LockService,
	gw gateway.PaymentGateway,
	lg ledger.TokenLedger,
	email notification.EmailService,
) PaymentService {
	return &paymentService{
		paymentRepo:  paymentRepo,
		idempotency:  idempotency,
		orderRepo:    oRepo,
		lockRepo:     lRepo,
		productRepo:  pRepo,
		shopRepo:     sRepo,
		orderService: oService,
		lockService:  lockService,
		gateway:      gw,
		ledger:       lg,
		email:        email,
	}
}

// orderCut 单个子订单的卖家到账额与平台留存额
type orderCut struct {
	transfer    int64
	gatewayFee  int64
	platformFee int64
}

func prorate(total, part, whole int64) int64 {
	if whole == 0 {
		return 0
	}
	return int64(math.Floor(float64(total)*float64(part)/float64(whole) + 0.5))
}

// orderCuts 计算每个子订单的到账额。
// 店铺抽成率在结账期间变更时，子订单内各行快照不再一致，
// 无法按单一费率整体计算，此时回退为明细快照 Transfer 之和，
// 保证已提交行的到账承诺不被事后的费率变更稀释。
func (s *paymentService) orderCuts(group *orderModel.OrderGroup) ([]orderCut, error) {
	shopIDs := make([]string, 0, len(group.Orders))
	for i := range group.Orders {
		shopIDs = append(shopIDs, group.Orders[i].ShopID)
	}
	shops, err := s.shopRepo.GetByIDs(shopIDs)
	if err != nil {
		return nil, fmt.Errorf("load shops for transfer calc: %w", err)
	}

	_, gatewayFeePercent := config.GetCoinRateAndGatewayFeePercents()

	cuts := make([]orderCut, len(group.Orders))
	for i := range group.Orders {
		order := &group.Orders[i]
		gross := order.TotalAmount
		gwFee := prorate(gross, int64(math.Round(gatewayFeePercent*100)), 10000)

		currentPercent := order.PlatformFeePercent
		if shop, ok := shops[order.ShopID]; ok {
			currentPercent = shop.PlatformFeePercent
		}

		diverged := false
		for j := range order.Details {
			if order.Details[j].PlatformFeePercent != currentPercent {
				diverged = true
				break
			}
		}

		var transfer int64
		if diverged {
			for j := range order.Details {
				transfer += order.Details[j].Transfer
			}
		} else {
			transfer, _ = orderService.TransferAmount(gross, gatewayFeePercent, currentPercent)
		}

		cuts[i] = orderCut{
			transfer:    transfer,
			gatewayFee:  gwFee,
			platformFee: gross - gwFee - transfer,
		}
	}
	return cuts, nil
}

func (s *paymentService) CreateIntent(ctx context.Context, userID string, req CreateIntentRequest) (*CreateIntentResult, error) {
	group, err := s.orderRepo.GetGroupByID(req.OrderGroupID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderService.ErrOrderNotFound
		}
		return nil, err
	}
	if group.IsTerminal() {
		return nil, orderService.ErrOrderNotInProgress
	}
	if group.SellerUserID == userID {
		return nil, ErrSelfPurchase
	}
	// 买家认领：首个结账者占有订单组，此后只有同一买家能继续
	if group.UserID != nil && *group.UserID != userID {
		return nil, orderService.ErrOrderNotOwned
	}
	group.UserID = &userID

	// 按现价重算 + 逐行校验（含库存）
	if err := s.orderService.Refresh(group); err != nil {
		return nil, err
	}
	for _, d := range group.AllDetails() {
		if d.HasFatalError() {
			return nil, ErrOrderHasErrors
		}
	}

	if req.Amount != group.Amount || req.TotalAmount != group.TotalAmount {
		return nil, fmt.Errorf("%w: declared %d/%d actual %d/%d",
			ErrTotalsMismatch, req.Amount, req.TotalAmount, group.Amount, group.TotalAmount)
	}
	if req.UsedTokens < 0 || req.UsedTokens > group.TotalAmount {
		return nil, ErrInvalidTokens
	}
	if group.HasShipLaterItems() && group.ShippingAddress == nil {
		return nil, ErrShippingAddrRequired
	}

	group.UsedTokens = req.UsedTokens
	group.FiatAmount = group.TotalAmount - group.UsedTokens
	group.EarnedTokens = orderService.AllocateRewards(group.AllDetails(), group.FiatAmount)

	cuts, err := s.orderCuts(group)
	if err != nil {
		return nil, err
	}
	var totalTransfer, totalGatewayFee, totalPlatformFee int64
	for _, c := range cuts {
		totalTransfer += c.transfer
		totalGatewayFee += c.gatewayFee
		totalPlatformFee += c.platformFee
	}

	// 支付腿拆分：法币腿按占比取整，积分腿收尾差，合计恒等于订单额
	currency := config.GlobalConfig.Payment.Currency
	var legs []*model.PaymentTransaction

	fiatTransfer := prorate(totalTransfer, group.FiatAmount, group.TotalAmount)
	fiatGatewayFee := prorate(totalGatewayFee, group.FiatAmount, group.TotalAmount)
	fiatPlatformFee := prorate(totalPlatformFee, group.FiatAmount, group.TotalAmount)

	if group.FiatAmount > 0 {
		legs = append(legs, &model.PaymentTransaction{
			UserID:         userID,
			Amount:         group.FiatAmount,
			Currency:       &currency,
			GatewayFee:     fiatGatewayFee,
			PlatformFee:    fiatPlatformFee,
			TransferAmount: fiatTransfer,
			Status:         model.TxStatusCreated,
			ItemType:       model.ItemTypeInstoreOrder,
		})
	}
	if group.UsedTokens > 0 {
		legs = append(legs, &model.PaymentTransaction{
			UserID:         userID,
			Amount:         group.UsedTokens,
			GatewayFee:     totalGatewayFee - fiatGatewayFee,
			PlatformFee:    totalPlatformFee - fiatPlatformFee,
			TransferAmount: totalTransfer - fiatTransfer,
			Status:         model.TxStatusBeforeTransit,
			ItemType:       model.ItemTypeInstoreOrder,
		})
	}

	var intentID string
	if group.FiatAmount > 0 {
		intent, err := s.gateway.CreateIntent(userID, group.Code, gateway.IntentRequest{
			Amount:         group.FiatAmount,
			Currency:       currency,
			ApplicationFee: group.FiatAmount - fiatTransfer,
			Metadata: map[string]string{
				"orderGroupId": group.ID,
				"code":         group.Code,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("create payment intent: %w", err)
		}
		intentID = intent.ID
	} else {
		intentID = localIntentPrefix + uuid.New().String()
	}

	err = s.orderRepo.Transaction(func(tx *gorm.DB) error {
		oRepo := s.orderRepo.WithTx(tx)
		pRepo := s.paymentRepo.WithTx(tx)

		if err := oRepo.UpdateGroupTotals(group); err != nil {
			return err
		}
		// 分摊结果写回明细行，报表与 CSV 导出读取的是落库值
		for _, d := range group.AllDetails() {
			if err := oRepo.UpdateDetail(d); err != nil {
				return err
			}
		}
		if err := oRepo.AttachPaymentIntent(group.ID, intentID); err != nil {
			return err
		}
		for _, leg := range legs {
			id := intentID
			leg.PaymentIntentID = &id
			if err := pRepo.CreateTransaction(leg); err != nil {
				return err
			}
		}
		// 库存锁定与腿同事务落库，确认到达前持有额度
		return s.lockService.Reserve(tx, userID, group, intentID)
	})
	if err != nil {
		return nil, fmt.Errorf("persist checkout: %w", err)
	}

	id := intentID
	group.PaymentIntentID = &id

	return &CreateIntentResult{
		PaymentIntentID: intentID,
		RequiresCharge:  group.FiatAmount > 0,
		Group:           group,
	}, nil
}

func (s *paymentService) Confirm(ctx context.Context, intentID string) error {
	start := time.Now()
	collector := metrics.GetGlobalCollector()

	group, err := s.orderRepo.GetGroupByPaymentIntentID(intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPaymentNotFound
		}
		return err
	}

	// 网关重试投递：已完成的订单短路成功
	if group.Status == orderModel.StatusCompleted {
		collector.RecordPaymentConfirm("duplicate")
		return nil
	}
	if group.Status != orderModel.StatusInProgress {
		collector.RecordPaymentConfirm("expired")
		return ErrReservationExpired
	}
	if group.UserID == nil {
		return ErrPaymentNotFound
	}
	userID := *group.UserID

	acquired, err := s.idempotency.AcquireConfirm(ctx, intentID)
	if err != nil {
		return fmt.Errorf("acquire confirm dedup: %w", err)
	}
	if !acquired {
		collector.RecordPaymentConfirm("duplicate")
		return ErrDuplicateConfirm
	}
	settled := false
	defer func() {
		if !settled {
			if err := s.idempotency.ReleaseConfirm(ctx, intentID); err != nil {
				logger.Log.Error("release confirm dedup failed",
					zap.String("intentId", intentID), zap.Error(err))
			}
		}
	}()

	// 锁定被超时清扫后确认仍可能到达：重校验库存并重建锁定，
	// 库存已被抢走则以冲突终止
	locks, err := s.lockRepo.FindByPaymentIntent(intentID)
	if err != nil {
		return fmt.Errorf("load stock locks: %w", err)
	}
	if len(locks) == 0 {
		if err := s.lockService.Reconfirm(userID, group, intentID); err != nil {
			collector.RecordPaymentConfirm("conflict")
			return fmt.Errorf("%w: %v", ErrReservationExpired, err)
		}
	}
	if err := s.lockService.MarkLocked(userID, group.ID); err != nil {
		return fmt.Errorf("mark locks: %w", err)
	}

	txns, err := s.paymentRepo.FindTransactionsByIntent(intentID)
	if err != nil {
		return fmt.Errorf("load payment transactions: %w", err)
	}
	var fiatLeg, tokenLeg *model.PaymentTransaction
	for _, txn := range txns {
		if txn.IsTokenLeg() {
			tokenLeg = txn
		} else {
			fiatLeg = txn
		}
	}
	if fiatLeg == nil && tokenLeg == nil {
		return ErrPaymentNotFound
	}

	// 烧币。失败则整个确认失败（此时卡未被扣，网关会重试）。
	// CompleteTransactions 只是请求推进，终态由对账任务确认。
	if tokenLeg != nil {
		ledgerTx, err := s.ledger.SpendTokens(userID, group.Code, tokenLeg.Amount, tokenLeg.ID, ledger.ActionInstoreOrder)
		if err != nil {
			collector.RecordPaymentConfirm("error")
			return fmt.Errorf("spend tokens: %w", err)
		}
		tokenLeg.LedgerTxID = &ledgerTx.ID
		if err := s.ledger.CompleteTransactions([]string{ledgerTx.ID}); err != nil {
			logger.Log.Warn("ledger complete deferred to reconciliation",
				zap.String("ledgerTxId", ledgerTx.ID), zap.Error(err))
		}
	}

	cuts, err := s.orderCuts(group)
	if err != nil {
		return err
	}

	// 向卖家打款。单笔失败不回滚确认（币已烧、卡已扣），
	// 记录无网关 id 的打款行，由运营对账补发。
	gatewayTransferIDs := make(map[string]string, len(group.Orders))
	if fiatLeg != nil {
		for i := range group.Orders {
			order := &group.Orders[i]
			if cuts[i].transfer <= 0 {
				continue
			}
			transfer, err := s.gateway.CreateTransfer(gateway.TransferRequest{
				Amount:      cuts[i].transfer,
				Destination: order.ShopID,
				Metadata:    map[string]string{"orderId": order.ID, "code": group.Code},
			})
			if err != nil {
				logger.Log.Error("gateway transfer failed, recorded without transfer id",
					zap.String("orderId", order.ID), zap.Error(err))
				continue
			}
			gatewayTransferIDs[order.ID] = transfer.ID
		}
	}

	primaryLeg := fiatLeg
	if primaryLeg == nil {
		primaryLeg = tokenLeg
	}

	err = s.paymentRepo.Transaction(func(tx *gorm.DB) error {
		pRepo := s.paymentRepo.WithTx(tx)
		oRepo := s.orderRepo.WithTx(tx)
		prodRepo := s.productRepo.WithTx(tx)
		lRepo := s.lockRepo.WithTx(tx)

		if fiatLeg != nil {
			if err := pRepo.UpdateTransactionStatus(fiatLeg.ID, model.TxStatusChargeSucceeded); err != nil {
				return err
			}
		}
		if tokenLeg != nil {
			if err := pRepo.SetLedgerTx(tokenLeg.ID, *tokenLeg.LedgerTxID); err != nil {
				return err
			}
			if err := pRepo.UpdateTransactionStatus(tokenLeg.ID, model.TxStatusInTransit); err != nil {
				return err
			}
		}

		// 守卫扣减：同商品同履约方式合并后一次扣减，
		// 余量不足整个事务回滚
		type stockKey struct {
			productID string
			shipLater bool
		}
		decrements := make(map[stockKey]int)
		for _, d := range group.AllDetails() {
			decrements[stockKey{d.ProductID, d.ShipLater}] += d.Quantity
		}
		for k, qty := range decrements {
			if err := prodRepo.DecrementStock(k.productID, qty, k.shipLater); err != nil {
				return err
			}
		}

		if err := lRepo.DeleteByUserAndOrder(userID, group.ID); err != nil {
			return err
		}

		for i := range group.Orders {
			order := &group.Orders[i]
			row := &model.PaymentTransfer{
				OrderID:              order.ID,
				PaymentTransactionID: primaryLeg.ID,
				TransferAmount:       cuts[i].transfer,
				PlatformFee:          cuts[i].platformFee,
				PlatformPercents:     order.PlatformFeePercent,
			}
			if id, ok := gatewayTransferIDs[order.ID]; ok {
				transferID := id
				row.GatewayTransferID = &transferID
			}
			if err := pRepo.CreateTransfer(row); err != nil {
				return err
			}
		}

		if err := oRepo.UpdateStatusByGroup(group.ID, orderModel.StatusCompleted); err != nil {
			return err
		}
		return oRepo.SetGroupPaymentTransaction(group.ID, primaryLeg.ID)
	})
	if err != nil {
		if errors.Is(err, productRepo.ErrInsufficientStock) {
			collector.RecordPaymentConfirm("conflict")
			collector.RecordStockConflict("settlement")
			// 结算失败，锁定归还
			if rErr := s.lockService.Release(userID, group.ID); rErr != nil {
				logger.Log.Error("release locks after settle failure",
					zap.String("orderGroupId", group.ID), zap.Error(rErr))
			}
			return fmt.Errorf("%w: %v", ErrReservationExpired, err)
		}
		collector.RecordPaymentConfirm("error")
		return fmt.Errorf("settle payment: %w", err)
	}

	settled = true
	collector.RecordPaymentConfirm("success")
	collector.ObserveSettlement(time.Since(start))

	s.notifyCompleted(group, userID)
	return nil
}

// notifyCompleted 结算后的通知与返还。全部尽力而为，失败只记录。
func (s *paymentService) notifyCompleted(group *orderModel.OrderGroup, userID string) {
	buyerCtx := map[string]interface{}{
		"code":        group.Code,
		"totalAmount": group.TotalAmount,
		"usedTokens":  group.UsedTokens,
	}
	// 收件地址由邮件服务按账户 id 解析
	if err := s.email.SendEmail(userID, notification.TemplateBuyerOrderCompleted, buyerCtx); err != nil {
		logger.Log.Error("buyer email failed", zap.String("orderGroupId", group.ID), zap.Error(err))
	}

	bcc := config.GlobalConfig.Notification.SellerBcc
	for i := range group.Orders {
		order := &group.Orders[i]
		sellerCtx := map[string]interface{}{
			"code":        group.Code,
			"shopTitle":   order.ShopTitle,
			"totalAmount": order.TotalAmount,
			"shipLater":   order.ShipLater,
		}
		if err := s.email.SendEmailWithBcc(order.ShopEmail, bcc, notification.TemplateSellerOrderCompleted, sellerCtx); err != nil {
			logger.Log.Error("seller email failed", zap.String("orderId", order.ID), zap.Error(err))
		}
	}

	if push.GlobalPushService != nil {
		err := push.GlobalPushService.PushToAccount(userID,
			"お支払いが完了しました",
			fmt.Sprintf("注文 %s の決済が完了しました", group.Code),
			map[string]string{"orderGroupId": group.ID})
		if err != nil {
			logger.Log.Error("push notification failed", zap.String("orderGroupId", group.ID), zap.Error(err))
		}
	}

	if group.EarnedTokens > 0 {
		err := s.ledger.AddCashback(ledger.CashbackRequest{
			ExternalUserID: userID,
			AssetID:        config.GlobalConfig.Ledger.AssetID,
			Title:          group.Code,
			Amount:         group.EarnedTokens,
		}, ledger.ActionInstoreOrderReward)
		if err != nil {
			logger.Log.Error("reward cashback failed",
				zap.String("orderGroupId", group.ID),
				zap.Int64("amount", group.EarnedTokens), zap.Error(err))
		}
	}
}

func (s *paymentService) ListPaymentMethods(userID string) ([]gateway.PaymentMethod, error) {
	methods, err := s.gateway.ListPaymentMethods(userID)
	if err != nil {
		return nil, fmt.Errorf("list payment methods: %w", err)
	}
	return methods, nil
}

func (s *paymentService) ReconcileInTransit() (int, error) {
	legs, err := s.paymentRepo.FindInTransitTokenLegs()
	if err != nil {
		return 0, fmt.Errorf("find in-transit legs: %w", err)
	}
	if len(legs) == 0 {
		return 0, nil
	}

	ledgerIDs := make([]string, 0, len(legs))
	txnByLedgerID := make(map[string]string, len(legs))
	for _, leg := range legs {
		ledgerIDs = append(ledgerIDs, *leg.LedgerTxID)
		txnByLedgerID[*leg.LedgerTxID] = leg.ID
	}

	statuses, err := s.ledger.GetTransactionsByIDs(ledgerIDs)
	if err != nil {
		return 0, fmt.Errorf("query ledger transactions: %w", err)
	}

	var done []string
	for _, st := range statuses {
		switch st.Status {
		case ledger.TxStatusCompleted:
			done = append(done, txnByLedgerID[st.ID])
		case ledger.TxStatusFailed:
			// 币已在订单侧记为已用但账本侧烧币失败，留给运营处理
			logger.Log.Error("ledger burn failed for settled payment",
				zap.String("ledgerTxId", st.ID),
				zap.String("paymentTransactionId", txnByLedgerID[st.ID]))
		}
	}

	n, err := s.paymentRepo.BulkMarkChargeSucceeded(done)
	if err != nil {
		return int(n), fmt.Errorf("mark charge succeeded: %w", err)
	}
	metrics.GetGlobalCollector().RecordReconciled(int(n))
	return int(n), nil
}
