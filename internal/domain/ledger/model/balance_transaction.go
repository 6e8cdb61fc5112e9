package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 流水类型
const (
	TypeCreditSale      = "CREDIT_SALE"
	TypeDebitWithdrawal = "DEBIT_WITHDRAWAL"
	TypeAdjustmentAdd   = "ADJUSTMENT_ADD"
	TypeAdjustmentSub   = "ADJUSTMENT_SUB"
)

// 关联实体类型
const (
	RelatedOrderItem = "ORDER_ITEM"
	RelatedPayout    = "PAYOUT"
	RelatedAdmin     = "ADMIN"
)

// BalanceTransaction 讲师余额流水，只追加不修改
// 当前余额即 sequence 最大一条流水的 RunningBalanceAfter
// Sequence 按讲师递增，(instructor_id, sequence) 唯一，并发追加时只有一方能提交
// CreatedAt 随 Sequence 严格递增，按 (created_at DESC, id DESC) 排序得到同一条最新流水
type BalanceTransaction struct {
	ID                  uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	InstructorID        uint            `gorm:"not null;uniqueIndex:idx_ledger_seq,priority:1;index:idx_ledger_latest,priority:1" json:"instructorId"`
	Sequence            int64           `gorm:"not null;uniqueIndex:idx_ledger_seq,priority:2" json:"sequence"`
	Type                string          `gorm:"size:32;not null" json:"type"`
	Amount              decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	Currency            string          `gorm:"size:3;not null" json:"currency"`
	RunningBalanceAfter decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"runningBalanceAfter"`
	RelatedEntityType   string          `gorm:"size:32" json:"relatedEntityType"`
	RelatedEntityID     uint            `json:"relatedEntityId"`
	Note                string          `gorm:"size:500" json:"note,omitempty"`
	CreatedAt           time.Time       `gorm:"not null;index:idx_ledger_latest,priority:2" json:"createdAt"`
}

// EarningsRow 按类型汇总
type EarningsRow struct {
	Type   string          `db:"type" json:"type"`
	Count  int64           `db:"entry_count" json:"count"`
	Amount decimal.Decimal `db:"total_amount" json:"amount"`
}
