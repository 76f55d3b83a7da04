package order

import (
	"marketplace_backend/internal/domain/order/handler"
	"marketplace_backend/internal/domain/order/repository"
	"marketplace_backend/internal/domain/order/service"
	productRepo "marketplace_backend/internal/domain/product/repository"
	shopRepo "marketplace_backend/internal/domain/shop/repository"
	"marketplace_backend/internal/pkg/middleware"
	"marketplace_backend/internal/pkg/registry"

	"github.com/gin-gonic/gin"
)

// OrderModule 订单模块
type OrderModule struct{}

func init() {
	registry.Register(&OrderModule{})
}

func (m *OrderModule) Name() string {
	return "order"
}

// Priority 先于 payment 模块初始化
func (m *OrderModule) Priority() int {
	return 10
}

func (m *OrderModule) Init(ctx *registry.ModuleContext) error {
	// 1. 依赖注入
	oRepo := repository.NewOrderRepository(ctx.DB)
	lRepo := repository.NewLockRepository(ctx.DB)
	eRepo := repository.NewExportRepository(ctx.SQLX)
	pRepo := productRepo.NewProductRepository(ctx.DB)
	sRepo := shopRepo.NewShopRepository(ctx.DB)

	lockService := service.NewLockService(lRepo, pRepo)
	oService := service.NewOrderService(oRepo, eRepo, pRepo, sRepo, lockService)
	oHandler := handler.NewOrderHandler(oService)

	// 2. 路由注册
	setupRoutes(ctx.Router, oHandler)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.OrderHandler) {
	g := r.Group("/orders")

	authorized := g.Group("")
	authorized.Use(middleware.AuthMiddleware())
	{
		// 卖家端：开单、改单
		authorized.POST("/", h.CreateOrder)
		authorized.POST("/:id/items", h.AddItem)
		authorized.DELETE("/:id/items/:detailId", h.RemoveItem)
		authorized.POST("/:id/cancel", h.Cancel)
		authorized.DELETE("/:id", h.Delete)

		// 卖家端：一览与导出
		authorized.GET("/", h.ListSellerGroups)
		authorized.GET("/export", h.ExportCSV)

		// 买家端：扫码取单
		authorized.GET("/code/:code", h.GetByCode)
		authorized.GET("/intent/:intentId", h.GetByPaymentIntent)
	}
}
