package handler

import (
	"time"

	"course_market/internal/domain/promotion/service"
	"course_market/internal/pkg/common"
	"course_market/pkg/response"
	"course_market/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type PromotionHandler struct {
	service service.PromotionService
}

func NewPromotionHandler(service service.PromotionService) *PromotionHandler {
	return &PromotionHandler{service: service}
}

type ValidatePromotionInput struct {
	Code   string          `json:"code" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type ValidatePromotionOutput struct {
	PromotionID uint            `json:"promotionId"`
	Code        string          `json:"code"`
	Discount    decimal.Decimal `json:"discount"`
	FinalAmount decimal.Decimal `json:"finalAmount"`
}

// Validate 结账前预览优惠，不占用次数
func (h *PromotionHandler) Validate(c *gin.Context) {
	var input ValidatePromotionInput
	if !common.BindJSON(c, &input) {
		return
	}

	p, discount, err := h.service.Validate(c.Request.Context(), input.Code, input.Amount)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, ValidatePromotionOutput{
		PromotionID: p.ID,
		Code:        p.Code,
		Discount:    discount,
		FinalAmount: decimal.Max(input.Amount.Sub(discount), decimal.Zero),
	})
}

type CreatePromotionInput struct {
	Code          string          `json:"code" binding:"required"`
	DiscountType  string          `json:"discountType" binding:"required,oneof=PERCENTAGE FIXED_AMOUNT"`
	DiscountValue decimal.Decimal `json:"discountValue"`
	MinOrder      decimal.Decimal `json:"minOrder"`
	MaxDiscount   decimal.Decimal `json:"maxDiscount"`
	MaxUsageLimit *int            `json:"maxUsageLimit"`
	StartDate     time.Time       `json:"startDate" binding:"required"`
	EndDate       time.Time       `json:"endDate" binding:"required"`
}

func (h *PromotionHandler) Create(c *gin.Context) {
	var input CreatePromotionInput
	if !common.BindJSON(c, &input) {
		return
	}

	p, err := h.service.Create(c.Request.Context(), service.CreatePromotionInput{
		Code:          input.Code,
		DiscountType:  input.DiscountType,
		DiscountValue: input.DiscountValue,
		MinOrder:      input.MinOrder,
		MaxDiscount:   input.MaxDiscount,
		MaxUsageLimit: input.MaxUsageLimit,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, p)
}

func (h *PromotionHandler) List(c *gin.Context) {
	page := common.BindPagination(c)
	offset, limit := page.GetPageOffset()

	list, total, err := h.service.List(c.Request.Context(), offset, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, utils.NewPageResult(list, total, page))
}
