package model

import "time"

// 配置项 key
const (
	KeyCommissionRate = "commission_rate"
	// KeyMinWithdrawalPrefix 后接币种代码，例如 min_withdrawal.USD
	KeyMinWithdrawalPrefix = "min_withdrawal."
)

// Setting 运行时配置项，管理员可在线修改，每次调用时读取
type Setting struct {
	Key       string    `gorm:"primaryKey;size:64" json:"key"`
	Value     string    `gorm:"size:255;not null" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Setting) TableName() string {
	return "platform_settings"
}
