package notify

import (
	"context"

	"course_market/internal/pkg/push"
)

// PushSink 移动端推送，只投递有标题的事件
type PushSink struct {
	svc push.PushService
}

func NewPushSink(svc push.PushService) *PushSink {
	return &PushSink{svc: svc}
}

func (s *PushSink) Name() string { return "push" }

func (s *PushSink) Send(_ context.Context, event Event) error {
	if event.Title == "" || event.RecipientID == 0 {
		return nil
	}
	ext := map[string]string{"type": event.Type}
	for k, v := range event.Data {
		ext[k] = v
	}
	return s.svc.PushToAccount(push.AccountID(event.RecipientID), event.Title, event.Body, ext)
}
