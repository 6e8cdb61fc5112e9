package model

import (
	"time"

	"course_market/pkg/model"

	"github.com/shopspring/decimal"
)

// 优惠类型
const (
	DiscountPercentage  = "PERCENTAGE"
	DiscountFixedAmount = "FIXED_AMOUNT"
)

// 优惠状态
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Promotion 优惠码，金额字段均为基准币
// UsageCount 只能通过仓储层的条件更新修改
type Promotion struct {
	model.BaseModel
	Code          string          `gorm:"size:64;uniqueIndex;not null" json:"code"`
	DiscountType  string          `gorm:"size:20;not null" json:"discountType"`
	DiscountValue decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"discountValue"`
	MinOrder      decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"minOrder"`
	// MaxDiscount 为 0 表示不封顶
	MaxDiscount   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"maxDiscount"`
	UsageCount    int             `gorm:"not null;default:0" json:"usageCount"`
	MaxUsageLimit *int            `json:"maxUsageLimit"`
	StartDate     time.Time       `gorm:"not null" json:"startDate"`
	EndDate       time.Time       `gorm:"not null" json:"endDate"`
	Status        string          `gorm:"size:20;not null;default:ACTIVE" json:"status"`
}

// Exhausted 已达到使用上限
func (p *Promotion) Exhausted() bool {
	return p.MaxUsageLimit != nil && p.UsageCount >= *p.MaxUsageLimit
}

// ActiveAt 在 at 时刻是否可用
func (p *Promotion) ActiveAt(at time.Time) bool {
	return p.Status == StatusActive && !at.Before(p.StartDate) && at.Before(p.EndDate)
}
