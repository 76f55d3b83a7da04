package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"marketplace_backend/internal/domain/order/model"
	"marketplace_backend/internal/domain/order/service"
	"marketplace_backend/internal/pkg/middleware"
	"marketplace_backend/pkg/response"
	"marketplace_backend/pkg/utils"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	service service.OrderService
}

func NewOrderHandler(service service.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

type CreateOrderInput struct {
	Items           []service.PurchaseItem `json:"items" binding:"required,min=1,dive"`
	ShippingAddress *model.ShippingAddress `json:"shippingAddress"`
}

// CreateOrder 卖家（店头端末）物化一笔待支付订单
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	sellerUserID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	var input CreateOrderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	group, err := h.service.Create(sellerUserID, input.Items, input.ShippingAddress)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, group)
}

func (h *OrderHandler) AddItem(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	var input service.PurchaseItem
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	group, err := h.service.AddItem(userID, c.Param("id"), input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, group)
}

func (h *OrderHandler) RemoveItem(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	group, err := h.service.RemoveItem(userID, c.Param("id"), c.Param("detailId"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, group)
}

// GetByCode 买家扫码后按订单号取回聚合（IN_PROGRESS 时按现价重算）
func (h *OrderHandler) GetByCode(c *gin.Context) {
	group, err := h.service.GetByCode(c.Param("code"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, group)
}

func (h *OrderHandler) GetByPaymentIntent(c *gin.Context) {
	group, err := h.service.GetByPaymentIntentID(c.Param("intentId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, group)
}

func (h *OrderHandler) ListSellerGroups(c *gin.Context) {
	sellerUserID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	var p utils.Pagination
	if err := c.ShouldBindQuery(&p); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	offset, limit := p.GetPageOffset()

	groups, total, err := h.service.ListSellerGroups(sellerUserID, offset, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, p.NewPageResult(groups, total))
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	if err := h.service.Cancel(userID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, "Order canceled")
}

func (h *OrderHandler) Delete(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	if err := h.service.Delete(userID, c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, "Order deleted")
}

// ExportCSV 卖家导出指定期间的已完成订单明细
func (h *OrderHandler) ExportCSV(c *gin.Context) {
	sellerUserID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	from, err := parseDateParam(c.Query("from"), time.Time{})
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "invalid from date")
		return
	}
	to, err := parseDateParam(c.Query("to"), time.Now())
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "invalid to date")
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition",
		fmt.Sprintf(`attachment; filename="orders_%s.csv"`, time.Now().Format("20060102")))

	if err := h.service.ExportCSV(sellerUserID, from, to, c.Writer); err != nil {
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
		return
	}
}

func parseDateParam(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	return time.Parse("2006-01-02", raw)
}

// writeError 业务错误到响应码的映射
func (h *OrderHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		response.Error(c, http.StatusNotFound, response.ErrOrderNotFound, "Order not found")
	case errors.Is(err, service.ErrOrderNotInProgress):
		response.Fail(c, response.ErrOrderNotInProgress, "Order is not in progress")
	case errors.Is(err, service.ErrOrderNotOwned):
		response.Error(c, http.StatusForbidden, response.ErrNoPermission, "Order belongs to another user")
	case errors.Is(err, service.ErrProductNotFound):
		response.Fail(c, response.ErrProductUnavailable, err.Error())
	case errors.Is(err, service.ErrDuplicateParameter):
		response.Fail(c, response.ErrDuplicateParameter, "Duplicate parameter selection")
	case errors.Is(err, service.ErrOutOfStock):
		response.Fail(c, response.ErrOutOfStock, err.Error())
	case errors.Is(err, service.ErrInsufficientStock):
		response.Fail(c, response.ErrInsufficientStock, err.Error())
	case errors.Is(err, service.ErrValidationFailed):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
	}
}
