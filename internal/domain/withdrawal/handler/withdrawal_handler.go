package handler

import (
	"course_market/internal/domain/withdrawal/service"
	"course_market/internal/pkg/common"
	"course_market/internal/pkg/middleware"
	"course_market/pkg/response"
	"course_market/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type WithdrawalHandler struct {
	service service.WithdrawalService
}

func NewWithdrawalHandler(service service.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{service: service}
}

type PayoutMethodInput struct {
	Type          string `json:"type" binding:"required,oneof=BANK_TRANSFER PAYPAL MOMO CRYPTO"`
	AccountName   string `json:"accountName" binding:"required,max=128"`
	AccountNumber string `json:"accountNumber" binding:"required,max=128"`
	BankName      string `json:"bankName" binding:"max=128"`
}

func (h *WithdrawalHandler) AddPayoutMethod(c *gin.Context) {
	var input PayoutMethodInput
	if !common.BindJSON(c, &input) {
		return
	}

	method, err := h.service.AddPayoutMethod(c.Request.Context(), middleware.CurrentUserID(c), service.PayoutMethodInput{
		Type:          input.Type,
		AccountName:   input.AccountName,
		AccountNumber: input.AccountNumber,
		BankName:      input.BankName,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, method)
}

func (h *WithdrawalHandler) ListPayoutMethods(c *gin.Context) {
	list, err := h.service.ListPayoutMethods(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, list)
}

func (h *WithdrawalHandler) DeactivatePayoutMethod(c *gin.Context) {
	id, ok := common.ParseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeactivatePayoutMethod(c.Request.Context(), middleware.CurrentUserID(c), id); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, nil)
}

type RequestWithdrawalInput struct {
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" binding:"omitempty,len=3"`
	PayoutMethodID uint            `json:"payoutMethodId" binding:"required"`
}

// RequestWithdrawal 讲师发起提现
func (h *WithdrawalHandler) RequestWithdrawal(c *gin.Context) {
	var input RequestWithdrawalInput
	if !common.BindJSON(c, &input) {
		return
	}

	req, err := h.service.RequestWithdrawal(c.Request.Context(), middleware.CurrentUserID(c), input.Amount, input.Currency, input.PayoutMethodID)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, req)
}

func (h *WithdrawalHandler) ListMine(c *gin.Context) {
	page := common.BindPagination(c)
	offset, limit := page.GetPageOffset()

	list, total, err := h.service.ListMine(c.Request.Context(), middleware.CurrentUserID(c), offset, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, utils.NewPageResult(list, total, page))
}

// ListRequests 后台按状态筛选
func (h *WithdrawalHandler) ListRequests(c *gin.Context) {
	page := common.BindPagination(c)
	offset, limit := page.GetPageOffset()

	list, total, err := h.service.ListRequests(c.Request.Context(), c.Query("status"), offset, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, utils.NewPageResult(list, total, page))
}

type ReviewInput struct {
	Decision string `json:"decision" binding:"required,oneof=APPROVE REJECT"`
	Note     string `json:"note" binding:"max=500"`
}

func (h *WithdrawalHandler) Review(c *gin.Context) {
	id, ok := common.ParseID(c, "id")
	if !ok {
		return
	}
	var input ReviewInput
	if !common.BindJSON(c, &input) {
		return
	}

	req, err := h.service.ReviewWithdrawalRequest(c.Request.Context(), middleware.CurrentUserID(c), id, service.Review{
		Approve: input.Decision == "APPROVE",
		Note:    input.Note,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, req)
}

type ProcessingInput struct {
	ExternalReference string `json:"externalReference" binding:"max=128"`
}

func (h *WithdrawalHandler) MarkProcessing(c *gin.Context) {
	id, ok := common.ParseID(c, "id")
	if !ok {
		return
	}
	var input ProcessingInput
	if c.Request.ContentLength > 0 && !common.BindJSON(c, &input) {
		return
	}

	payout, err := h.service.MarkPayoutProcessing(c.Request.Context(), id, input.ExternalReference)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, payout)
}

type ExecutionInput struct {
	Status            string           `json:"status" binding:"required,oneof=PAID FAILED"`
	ActualAmount      *decimal.Decimal `json:"actualAmount"`
	ActualCurrency    string           `json:"actualCurrency" binding:"omitempty,len=3"`
	ExternalReference string           `json:"externalReference" binding:"max=128"`
	FailureReason     string           `json:"failureReason" binding:"max=500"`
}

// Execute 回填打款结果
func (h *WithdrawalHandler) Execute(c *gin.Context) {
	id, ok := common.ParseID(c, "id")
	if !ok {
		return
	}
	var input ExecutionInput
	if !common.BindJSON(c, &input) {
		return
	}

	payout, err := h.service.ProcessPayoutExecution(c.Request.Context(), id, service.Execution{
		Status:            input.Status,
		ActualAmount:      input.ActualAmount,
		ActualCurrency:    input.ActualCurrency,
		ExternalReference: input.ExternalReference,
		FailureReason:     input.FailureReason,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, payout)
}
