package handler

import (
	"errors"
	"net/http"

	orderService "marketplace_backend/internal/domain/order/service"
	"marketplace_backend/internal/domain/payment/service"
	"marketplace_backend/internal/pkg/middleware"
	"marketplace_backend/pkg/response"

	"github.com/gin-gonic/gin"
)

type PaymentHandler struct {
	service service.PaymentService
}

func NewPaymentHandler(service service.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: service}
}

// CreateIntent 买家结账：锁库存、建支付腿、创建网关 intent
func (h *PaymentHandler) CreateIntent(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	var input service.CreateIntentRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	result, err := h.service.CreateIntent(c.Request.Context(), userID, input)
	if err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, result)
}

type ConfirmInput struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

// Confirm 支付确认。网关 webhook 与纯积分订单的客户端回调共用入口。
func (h *PaymentHandler) Confirm(c *gin.Context) {
	var input ConfirmInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}

	if err := h.service.Confirm(c.Request.Context(), input.PaymentIntentID); err != nil {
		h.writeError(c, err)
		return
	}

	response.Success(c, "Payment confirmed")
}

func (h *PaymentHandler) ListPaymentMethods(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.ErrTokenInvalid, "User not authenticated")
		return
	}

	methods, err := h.service.ListPaymentMethods(userID)
	if err != nil {
		response.Error(c, http.StatusBadGateway, response.ErrExternalService, err.Error())
		return
	}

	response.Success(c, methods)
}

func (h *PaymentHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orderService.ErrOrderNotFound):
		response.Error(c, http.StatusNotFound, response.ErrOrderNotFound, "Order not found")
	case errors.Is(err, orderService.ErrOrderNotInProgress):
		response.Fail(c, response.ErrOrderNotInProgress, "Order is not in progress")
	case errors.Is(err, orderService.ErrOrderNotOwned):
		response.Error(c, http.StatusForbidden, response.ErrNoPermission, "Order belongs to another user")
	case errors.Is(err, service.ErrPaymentNotFound):
		response.Error(c, http.StatusNotFound, response.ErrPaymentNotFound, "Payment not found")
	case errors.Is(err, service.ErrSelfPurchase):
		response.Fail(c, response.ErrSelfPurchase, "Seller cannot purchase own order")
	case errors.Is(err, service.ErrTotalsMismatch):
		response.Fail(c, response.ErrTotalsMismatch, err.Error())
	case errors.Is(err, service.ErrInvalidTokens):
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, "Used tokens out of range")
	case errors.Is(err, service.ErrShippingAddrRequired):
		response.Fail(c, response.ErrShippingAddrRequired, "Shipping address required for ship-later items")
	case errors.Is(err, service.ErrOrderHasErrors):
		response.Fail(c, response.ErrProductUnavailable, "Order has blocking validation errors")
	case errors.Is(err, service.ErrReservationExpired):
		response.Fail(c, response.ErrReservationExpired, err.Error())
	case errors.Is(err, service.ErrDuplicateConfirm):
		response.Fail(c, response.ErrDuplicateConfirm, "Confirm already in progress")
	case errors.Is(err, orderService.ErrOutOfStock):
		response.Fail(c, response.ErrOutOfStock, err.Error())
	case errors.Is(err, orderService.ErrInsufficientStock):
		response.Fail(c, response.ErrInsufficientStock, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.ErrServerInternal, err.Error())
	}
}
