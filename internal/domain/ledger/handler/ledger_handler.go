package handler

import (
	"net/http"
	"time"

	"course_market/internal/domain/ledger/service"
	"course_market/internal/pkg/common"
	"course_market/internal/pkg/middleware"
	"course_market/pkg/response"
	"course_market/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type LedgerHandler struct {
	service service.LedgerService
}

func NewLedgerHandler(service service.LedgerService) *LedgerHandler {
	return &LedgerHandler{service: service}
}

type BalanceOutput struct {
	InstructorID uint            `json:"instructorId"`
	Balance      decimal.Decimal `json:"balance"`
}

// GetBalance 当前讲师余额
func (h *LedgerHandler) GetBalance(c *gin.Context) {
	instructorID := middleware.CurrentUserID(c)
	balance, err := h.service.GetBalance(c.Request.Context(), instructorID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, BalanceOutput{InstructorID: instructorID, Balance: balance})
}

// ListEntries 当前讲师流水，最新在前
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	page := common.BindPagination(c)
	offset, limit := page.GetPageOffset()

	list, total, err := h.service.ListEntries(c.Request.Context(), middleware.CurrentUserID(c), offset, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, utils.NewPageResult(list, total, page))
}

type EarningsQuery struct {
	From time.Time `form:"from" time_format:"2006-01-02"`
	To   time.Time `form:"to" time_format:"2006-01-02"`
}

// Earnings 按类型汇总，默认最近 30 天
func (h *LedgerHandler) Earnings(c *gin.Context) {
	var q EarningsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, http.StatusBadRequest, response.ErrInvalidParam, err.Error())
		return
	}
	if q.To.IsZero() {
		q.To = time.Now()
	}
	if q.From.IsZero() {
		q.From = q.To.AddDate(0, 0, -30)
	}

	summary, err := h.service.EarningsSummary(c.Request.Context(), middleware.CurrentUserID(c), q.From, q.To)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, summary)
}

type AdjustInput struct {
	InstructorID uint            `json:"instructorId" binding:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Note         string          `json:"note" binding:"required,max=500"`
}

// Adjust 管理员调账
func (h *LedgerHandler) Adjust(c *gin.Context) {
	var input AdjustInput
	if !common.BindJSON(c, &input) {
		return
	}

	entry, err := h.service.Adjust(c.Request.Context(), input.InstructorID, input.Amount, input.Note, middleware.CurrentUserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, entry)
}

// Verify 校验讲师流水的 running balance 链
func (h *LedgerHandler) Verify(c *gin.Context) {
	instructorID, ok := common.ParseID(c, "instructorId")
	if !ok {
		return
	}
	report, err := h.service.VerifyChain(c.Request.Context(), instructorID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, report)
}
