package handler

import (
	"io"
	"net/http"

	"course_market/internal/domain/payment/service"
	"course_market/internal/domain/payment/strategy"
	"course_market/internal/pkg/common"
	"course_market/internal/pkg/middleware"
	"course_market/pkg/response"

	"github.com/gin-gonic/gin"
)

const maxCallbackBody = 1 << 20

type PaymentHandler struct {
	service service.PaymentService
}

func NewPaymentHandler(s service.PaymentService) *PaymentHandler {
	return &PaymentHandler{service: s}
}

type PayInput struct {
	Method string `json:"method" binding:"required"`
}

// Pay 为待支付订单发起支付
// @Summary 发起支付
// @Tags Payment
// @Accept json
// @Produce json
// @Param id path int true "Order ID"
// @Param input body PayInput true "Payment Method"
// @Success 200 {object} response.Response{data=strategy.PayResult} "Pay Result"
// @Router /orders/{id}/pay [post]
func (h *PaymentHandler) Pay(c *gin.Context) {
	id, ok := common.ParseID(c, "id")
	if !ok {
		return
	}
	var input PayInput
	if !common.BindJSON(c, &input) {
		return
	}

	result, err := h.service.Initiate(c.Request.Context(), middleware.CurrentUserID(c), id, input.Method, c.ClientIP())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// Methods 已启用的支付渠道
// @Summary 支付渠道列表
// @Tags Payment
// @Produce json
// @Router /payment/methods [get]
func (h *PaymentHandler) Methods(c *gin.Context) {
	response.Success(c, h.service.Methods())
}

// Callback 渠道异步通知，返回各渠道约定的确认格式
// @Summary 支付渠道回调
// @Tags Payment
// @Router /payment/vnpay/ipn [get]
// @Router /payment/stripe/webhook [post]
// @Router /payment/momo/ipn [post]
// @Router /payment/paypal/webhook [post]
// @Router /payment/crypto/callback [post]
func (h *PaymentHandler) Callback(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := readCallback(c)
		if err != nil {
			status, body := h.service.Acknowledge(method, strategy.ResultProcessed, strategy.ErrMalformedCallback.Wrap(err))
			writeAck(c, status, body)
			return
		}

		res, err := h.service.HandleCallback(c.Request.Context(), method, req)
		status, body := h.service.Acknowledge(method, res, err)
		writeAck(c, status, body)
	}
}

// Return 同步跳转页，仅展示结果
// @Summary VNPay 同步跳转
// @Tags Payment
// @Produce json
// @Router /payment/vnpay/return [get]
func (h *PaymentHandler) Return(method string) gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := h.service.DescribeReturn(c.Request.Context(), method, &strategy.CallbackRequest{
			Header: c.Request.Header,
			Query:  c.Request.URL.Query(),
		})
		if err != nil {
			response.FromError(c, err)
			return
		}
		response.Success(c, summary)
	}
}

// CapturePayPal 买家确认后扣款
// @Summary PayPal 扣款
// @Tags Payment
// @Produce json
// @Param token path string true "PayPal Order ID"
// @Router /payment/paypal/capture/{token} [post]
func (h *PaymentHandler) CapturePayPal(c *gin.Context) {
	result, err := h.service.Capture(c.Request.Context(), strategy.MethodPayPal, c.Param("token"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

func readCallback(c *gin.Context) (*strategy.CallbackRequest, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		return nil, err
	}
	return &strategy.CallbackRequest{
		Header: c.Request.Header,
		Query:  c.Request.URL.Query(),
		Body:   body,
	}, nil
}

func writeAck(c *gin.Context, status int, body interface{}) {
	if body == nil || status == http.StatusNoContent {
		c.Status(status)
		return
	}
	c.JSON(status, body)
}
