package model

import (
	"time"

	"course_market/pkg/model"

	"github.com/shopspring/decimal"
)

// 订单状态，只能从 PENDING_PAYMENT 单向迁移
const (
	StatusPendingPayment = "PENDING_PAYMENT"
	StatusCompleted      = "COMPLETED"
	StatusFailed         = "FAILED"
	StatusCancelled      = "CANCELLED"
)

// Order 订单
// FinalAmount = max(0, OriginalTotal - DiscountAmount)，金额均为订单币种
// ExchangeRate 为下单时冻结的汇率 (1 基准币兑换的订单币种数量)
type Order struct {
	model.BaseModel
	BuyerID        uint            `gorm:"not null;index" json:"buyerId"`
	OriginalTotal  decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"originalTotal"`
	DiscountAmount decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"discountAmount"`
	FinalAmount    decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"finalAmount"`
	Currency       string          `gorm:"size:3;not null" json:"currency"`
	ExchangeRate   decimal.Decimal `gorm:"type:numeric(24,10);not null;default:1" json:"exchangeRate"`
	PromotionID    *uint           `json:"promotionId,omitempty"`
	Status         string          `gorm:"size:20;not null;index:idx_orders_status_created,priority:1" json:"status"`
	PaymentID      *uint           `json:"paymentId,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	CancelReason   string          `gorm:"size:255" json:"cancelReason,omitempty"`
	Items          []OrderItem     `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

// OrderItem 订单项，价格在下单时冻结
// NetAmount 为分摊折扣后的实收金额，所有订单项 NetAmount 之和等于 FinalAmount
type OrderItem struct {
	ID           uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID      uint            `gorm:"not null;index" json:"orderId"`
	CourseID     uint            `gorm:"not null" json:"courseId"`
	InstructorID uint            `gorm:"not null" json:"instructorId"`
	Title        string          `gorm:"size:255" json:"title"`
	PriceAtOrder decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"priceAtOrder"`
	NetAmount    decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"netAmount"`
	EnrollmentID *uint           `json:"enrollmentId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Enrollment 选课记录，(user_id, course_id) 唯一
type Enrollment struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint      `gorm:"not null;uniqueIndex:idx_enrollment_user_course,priority:1" json:"userId"`
	CourseID    uint      `gorm:"not null;uniqueIndex:idx_enrollment_user_course,priority:2" json:"courseId"`
	OrderItemID uint      `gorm:"not null" json:"orderItemId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// StatusUpdate 状态迁移时写入的字段，只更新非空字段
type StatusUpdate struct {
	Status       string
	PaymentID    *uint
	CompletedAt  *time.Time
	CancelReason string
}

// Columns 显式列出需要更新的列
func (u StatusUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"status":     u.Status,
		"updated_at": time.Now(),
	}
	if u.PaymentID != nil {
		cols["payment_id"] = *u.PaymentID
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	if u.CancelReason != "" {
		cols["cancel_reason"] = u.CancelReason
	}
	return cols
}
