package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 认证错误 100xx
	ErrAuthFailed   = 10003
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 订单模块错误 300xx
	ErrOrderNotFound        = 30001
	ErrOrderNotInProgress   = 30002
	ErrOutOfStock           = 30003
	ErrInsufficientStock    = 30004
	ErrDuplicateParameter   = 30005
	ErrParameterUnavailable = 30006
	ErrProductUnavailable   = 30007
	ErrShippingAddrRequired = 30008

	// 支付模块错误 400xx
	ErrPaymentNotFound    = 40001
	ErrTotalsMismatch     = 40002
	ErrSelfPurchase       = 40003
	ErrReservationExpired = 40004
	ErrDuplicateConfirm   = 40005

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
	ErrExternalService = 50004
)
