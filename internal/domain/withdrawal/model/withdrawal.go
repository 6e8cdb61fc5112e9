package model

import (
	"time"

	"course_market/pkg/model"

	"github.com/shopspring/decimal"
)

// 提现申请状态
const (
	RequestPending    = "PENDING"
	RequestProcessing = "PROCESSING"
	RequestCompleted  = "COMPLETED"
	RequestRejected   = "REJECTED"
)

// 打款状态
const (
	PayoutPending    = "PENDING"
	PayoutProcessing = "PROCESSING"
	PayoutPaid       = "PAID"
	PayoutFailed     = "FAILED"
)

// 收款方式类型
const (
	MethodBankTransfer = "BANK_TRANSFER"
	MethodPayPal       = "PAYPAL"
	MethodMoMo         = "MOMO"
	MethodCrypto       = "CRYPTO"
)

// PayoutMethod 讲师收款账户
type PayoutMethod struct {
	model.BaseModel
	InstructorID  uint   `gorm:"index;not null" json:"instructorId"`
	Type          string `gorm:"size:20;not null" json:"type"`
	AccountName   string `gorm:"size:128;not null" json:"accountName"`
	AccountNumber string `gorm:"size:128;not null" json:"accountNumber"`
	BankName      string `gorm:"size:128" json:"bankName,omitempty"`
	IsActive      bool   `gorm:"not null;default:true" json:"isActive"`
}

// WithdrawalRequest 提现申请
// BaseAmount 为申请时按当时汇率折算的基准币金额
type WithdrawalRequest struct {
	model.BaseModel
	InstructorID      uint            `gorm:"index;not null" json:"instructorId"`
	RequestedAmount   decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"requestedAmount"`
	RequestedCurrency string          `gorm:"size:3;not null" json:"requestedCurrency"`
	BaseAmount        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"baseAmount"`
	ExchangeRate      decimal.Decimal `gorm:"type:numeric(24,10);not null;default:1" json:"exchangeRate"`
	PayoutMethodID    uint            `gorm:"not null" json:"payoutMethodId"`
	Status            string          `gorm:"size:20;index;not null" json:"status"`
	PayoutID          *uint           `json:"payoutId"`
	ReviewedBy        *uint           `json:"reviewedBy,omitempty"`
	AdminNote         string          `gorm:"size:512" json:"adminNote,omitempty"`
	ProcessedAt       *time.Time      `json:"processedAt"`
}

// Payout 打款记录，金额为基准币
type Payout struct {
	model.BaseModel
	WithdrawalRequestID uint             `gorm:"index;not null" json:"withdrawalRequestId"`
	InstructorID        uint             `gorm:"index;not null" json:"instructorId"`
	PayoutMethodID      uint             `gorm:"not null" json:"payoutMethodId"`
	Amount              decimal.Decimal  `gorm:"type:numeric(18,2);not null" json:"amount"`
	Currency            string           `gorm:"size:3;not null" json:"currency"`
	Status              string           `gorm:"size:20;index;not null" json:"status"`
	ActualAmount        *decimal.Decimal `gorm:"type:numeric(18,2)" json:"actualAmount"`
	ActualCurrency      string           `gorm:"size:3" json:"actualCurrency,omitempty"`
	ExternalReference   string           `gorm:"size:128" json:"externalReference,omitempty"`
	FailureReason       string           `gorm:"size:512" json:"failureReason,omitempty"`
	CompletedAt         *time.Time       `json:"completedAt"`
}

// RequestUpdate 提现申请的部分更新，零值字段不写入
type RequestUpdate struct {
	Status      string
	PayoutID    *uint
	ClearPayout bool
	ReviewedBy  *uint
	AdminNote   string
	ProcessedAt *time.Time
}

func (u RequestUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"status":     u.Status,
		"updated_at": time.Now(),
	}
	switch {
	case u.ClearPayout:
		cols["payout_id"] = nil
	case u.PayoutID != nil:
		cols["payout_id"] = *u.PayoutID
	}
	if u.ReviewedBy != nil {
		cols["reviewed_by"] = *u.ReviewedBy
	}
	if u.AdminNote != "" {
		cols["admin_note"] = u.AdminNote
	}
	if u.ProcessedAt != nil {
		cols["processed_at"] = *u.ProcessedAt
	}
	return cols
}

// PayoutUpdate 打款记录的部分更新
type PayoutUpdate struct {
	Status            string
	ActualAmount      *decimal.Decimal
	ActualCurrency    string
	ExternalReference string
	FailureReason     string
	CompletedAt       *time.Time
}

func (u PayoutUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"status":     u.Status,
		"updated_at": time.Now(),
	}
	if u.ActualAmount != nil {
		cols["actual_amount"] = *u.ActualAmount
	}
	if u.ActualCurrency != "" {
		cols["actual_currency"] = u.ActualCurrency
	}
	if u.ExternalReference != "" {
		cols["external_reference"] = u.ExternalReference
	}
	if u.FailureReason != "" {
		cols["failure_reason"] = u.FailureReason
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	return cols
}
