package handler

import (
	"course_market/internal/domain/order/service"
	"course_market/internal/pkg/common"
	"course_market/internal/pkg/middleware"
	"course_market/pkg/response"
	"course_market/pkg/utils"

	"github.com/gin-gonic/gin"
)

type OrderHandler struct {
	service service.OrderService
}

func NewOrderHandler(service service.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

type CreateOrderInput struct {
	PromotionCode string `json:"promotionCode"`
	Currency      string `json:"currency"`
}

// CreateOrder 由购物车创建订单
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderInput
	if c.Request.ContentLength > 0 && !common.BindJSON(c, &req) {
		return
	}

	order, err := h.service.CreateFromCart(c.Request.Context(), middleware.CurrentUserID(c), req.PromotionCode, req.Currency)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// ListOrders 我的订单
func (h *OrderHandler) ListOrders(c *gin.Context) {
	page := common.BindPagination(c)
	offset, limit := page.GetPageOffset()

	list, total, err := h.service.ListBuyerOrders(c.Request.Context(), middleware.CurrentUserID(c), offset, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, utils.NewPageResult(list, total, page))
}

// GetOrder 订单详情
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := common.ParseID(c, "id")
	if !ok {
		return
	}

	isAdmin := middleware.CurrentRole(c) == utils.RoleAdmin
	order, err := h.service.GetOrderDetails(c.Request.Context(), middleware.CurrentUserID(c), isAdmin, id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, order)
}

// CancelOrder 取消待支付订单
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	id, ok := common.ParseID(c, "id")
	if !ok {
		return
	}

	if err := h.service.CancelByBuyer(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}
