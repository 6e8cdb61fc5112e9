// Package notify 业务通知，事务提交后异步投递到 Kafka 与移动推送
package notify

import (
	"context"
	"time"
)

// 事件类型
const (
	EventOrderCompleted      = "order.completed"
	EventOrderFailed         = "order.failed"
	EventOrderCancelled      = "order.cancelled"
	EventEnrollmentCreated   = "enrollment.created"
	EventSaleCredited        = "ledger.sale_credited"
	EventWithdrawalRequested = "withdrawal.requested"
	EventWithdrawalApproved  = "withdrawal.approved"
	EventWithdrawalRejected  = "withdrawal.rejected"
	EventPayoutPaid          = "payout.paid"
	EventPayoutFailed        = "payout.failed"
)

// Event 通知事件
type Event struct {
	Type        string            `json:"type"`
	RecipientID uint              `json:"recipientId"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	OccurredAt  time.Time         `json:"occurredAt"`
}

// Notifier 业务层使用的通知入口
// 在事务中调用时，事件在最外层事务提交后才会投递，回滚则丢弃
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Sink 投递通道
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Nop 丢弃所有通知
type Nop struct{}

func (Nop) Notify(context.Context, Event) {}
