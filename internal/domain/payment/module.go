package payment

import (
	orderRepo "marketplace_backend/internal/domain/order/repository"
	orderService "marketplace_backend/internal/domain/order/service"
	"marketplace_backend/internal/domain/payment/gateway"
	"marketplace_backend/internal/domain/payment/handler"
	"marketplace_backend/internal/domain/payment/ledger"
	"marketplace_backend/internal/domain/payment/repository"
	"marketplace_backend/internal/domain/payment/service"
	productRepo "marketplace_backend/internal/domain/product/repository"
	shopRepo "marketplace_backend/internal/domain/shop/repository"
	"marketplace_backend/internal/pkg/middleware"
	"marketplace_backend/internal/pkg/notification"
	"marketplace_backend/internal/pkg/registry"
	"marketplace_backend/internal/pkg/worker"

	"github.com/gin-gonic/gin"
)

// PaymentModule 支付模块
type PaymentModule struct {
	sweeper *worker.Sweeper
}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

// Priority 在 order 模块之后初始化
func (m *PaymentModule) Priority() int {
	return 20
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	pRepo := repository.NewPaymentRepository(ctx.DB)
	idempotency := repository.NewRedisIdempotencyStore(ctx.Redis)

	oRepo := orderRepo.NewOrderRepository(ctx.DB)
	lRepo := orderRepo.NewLockRepository(ctx.DB)
	eRepo := orderRepo.NewExportRepository(ctx.SQLX)
	prodRepo := productRepo.NewProductRepository(ctx.DB)
	sRepo := shopRepo.NewShopRepository(ctx.DB)

	lockService := orderService.NewLockService(lRepo, prodRepo)
	oService := orderService.NewOrderService(oRepo, eRepo, prodRepo, sRepo, lockService)

	gw := gateway.NewHTTPGateway()
	lg := ledger.NewHTTPLedger()

	pService := service.NewPaymentService(
		pRepo, idempotency,
		oRepo, lRepo, prodRepo, sRepo,
		oService, lockService,
		gw, lg,
		notification.NewLogEmailService(),
	)
	pHandler := handler.NewPaymentHandler(pService)

	// 2. 路由注册
	setupRoutes(ctx.Router, pHandler)

	// 3. 后台清扫：订单超时、锁定过期、积分腿对账
	m.sweeper = worker.NewSweeper(oService, lockService, pService)
	m.sweeper.Start()

	return nil
}

// Shutdown 停止后台清扫，等待当前一轮结束
func (m *PaymentModule) Shutdown() {
	if m.sweeper != nil {
		m.sweeper.Stop()
	}
}

func setupRoutes(r *gin.Engine, h *handler.PaymentHandler) {
	g := r.Group("/payments")

	// webhook 由网关签名保护，不走用户认证
	g.POST("/confirm", h.Confirm)

	authorized := g.Group("")
	authorized.Use(middleware.AuthMiddleware())
	{
		authorized.POST("/intents", h.CreateIntent)
		authorized.GET("/methods", h.ListPaymentMethods)
	}
}
