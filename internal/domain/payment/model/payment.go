package model

import (
	"encoding/json"
	"time"

	baseModel "course_market/pkg/model"

	"github.com/shopspring/decimal"
)

const (
	StatusPending = "PENDING"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Payment 支付记录
// (external_transaction_id, method) 为回调幂等键，每个订单至多一条
type Payment struct {
	baseModel.BaseModel
	OrderID               uint            `gorm:"not null;uniqueIndex" json:"orderId"`
	Method                string          `gorm:"size:20;not null;uniqueIndex:idx_payment_external,priority:2" json:"method"`
	ExternalTransactionID string          `gorm:"size:128;not null;uniqueIndex:idx_payment_external,priority:1" json:"externalTransactionId"`
	OriginalAmount        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"originalAmount"`
	OriginalCurrency      string          `gorm:"size:3;not null" json:"originalCurrency"`
	ConvertedAmount       decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"convertedAmount"`
	ConvertedCurrency     string          `gorm:"size:3;not null" json:"convertedCurrency"`
	ConversionRate        decimal.Decimal `gorm:"type:numeric(24,10);not null" json:"conversionRate"`
	Status                string          `gorm:"size:20;not null" json:"status"`
	CompletedAt           *time.Time      `json:"completedAt,omitempty"`
	RawProviderPayload    json.RawMessage `gorm:"type:jsonb" json:"-"`
}
