package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 鉴权错误 100xx
	ErrAuthFailed   = 10003
	ErrTokenInvalid = 10004
	ErrNoPermission = 10005

	// 订单错误 200xx
	ErrOrderNotFound     = 20001
	ErrOrderStateInvalid = 20002
	ErrCartEmpty         = 20003

	// 优惠活动错误 210xx
	ErrPromotionInvalid    = 21001
	ErrPromotionUsageLimit = 21002

	// 支付错误 220xx
	ErrPaymentRejected = 22001
	ErrProviderFailure = 22002

	// 资金错误 230xx
	ErrInsufficientBalance = 23001
	ErrRateUnavailable     = 23002
	ErrWithdrawalState     = 23003

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
	ErrNotFound        = 50004
	ErrConflict        = 50005
)
