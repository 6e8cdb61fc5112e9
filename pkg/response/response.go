package response

import (
	"net/http"

	"course_market/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`             // 业务码
	Message string      `json:"message"`          // 提示信息
	Reason  string      `json:"reason,omitempty"` // 细分原因
	Data    interface{} `json:"data"`             // 数据
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, errCode int, msg string) {
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// Fail 业务失败响应 (HTTP 200, 业务码非 0)
func Fail(c *gin.Context, errCode int, msg string) {
	c.JSON(http.StatusOK, Response{
		Code:    errCode,
		Message: msg,
		Data:    nil,
	})
}

// FromError 按错误分类映射 HTTP 状态码与业务码
// 非业务错误统一返回 500，不向调用方暴露内部细节
func FromError(c *gin.Context, err error) {
	httpCode, errCode := Status(err)
	msg := err.Error()
	if apperr.KindOf(err) == apperr.KindInternal {
		msg = "internal server error"
	}
	c.JSON(httpCode, Response{
		Code:    errCode,
		Message: msg,
		Reason:  apperr.ReasonOf(err),
	})
}

// Status 错误分类对应的 HTTP 状态码与业务码
func Status(err error) (int, int) {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest, ErrInvalidParam
	case apperr.KindNotFound:
		return http.StatusNotFound, ErrNotFound
	case apperr.KindStateConflict:
		return http.StatusConflict, ErrConflict
	case apperr.KindUsageLimitExceeded:
		return http.StatusConflict, ErrPromotionUsageLimit
	case apperr.KindInsufficientBalance:
		return http.StatusUnprocessableEntity, ErrInsufficientBalance
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized, ErrAuthFailed
	case apperr.KindForbidden:
		return http.StatusForbidden, ErrNoPermission
	case apperr.KindExternalProvider:
		return http.StatusServiceUnavailable, ErrProviderFailure
	case apperr.KindIntegrityAnomaly:
		return http.StatusBadRequest, ErrPaymentRejected
	case apperr.KindRateUnavailable:
		return http.StatusServiceUnavailable, ErrRateUnavailable
	default:
		return http.StatusInternalServerError, ErrServerInternal
	}
}
