package model

import (
	"time"
)

// BaseModel 基础模型，替代 gorm.Model
// 资金相关记录均为审计数据，不做软删除
type BaseModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
