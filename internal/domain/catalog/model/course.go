package model

import (
	"time"

	"course_market/pkg/model"

	"github.com/shopspring/decimal"
)

const (
	CourseStatusPublished = "PUBLISHED"
	CourseStatusDraft     = "DRAFT"
)

// Course 课程，价格为基准币
type Course struct {
	model.BaseModel
	InstructorID uint            `gorm:"not null;index" json:"instructorId"`
	Title        string          `gorm:"size:255;not null" json:"title"`
	Price        decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"price"`
	Status       string          `gorm:"size:20;not null;default:DRAFT" json:"status"`
}

// CartItem 购物车条目
type CartItem struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_cart_user_course,priority:1" json:"userId"`
	CourseID  uint      `gorm:"not null;uniqueIndex:idx_cart_user_course,priority:2" json:"courseId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CartLine 购物车条目与课程快照
type CartLine struct {
	CourseID     uint            `json:"courseId"`
	InstructorID uint            `json:"instructorId"`
	Title        string          `json:"title"`
	Price        decimal.Decimal `json:"price"`
}
