package notify

import (
	"context"
	"time"

	"course_market/internal/pkg/worker"
	"course_market/pkg/database"
	"course_market/pkg/metrics"

	"go.uber.org/zap"
)

// Dispatcher 将事件按 sink 拆分为异步任务
type Dispatcher struct {
	pool    *worker.WorkerPool
	sinks   []Sink
	log     *zap.Logger
	metrics *metrics.MetricsCollector
}

func NewDispatcher(pool *worker.WorkerPool, log *zap.Logger, m *metrics.MetricsCollector, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		pool:    pool,
		sinks:   sinks,
		log:     log.With(zap.String("component", "notify")),
		metrics: m,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	database.AfterCommit(ctx, func() {
		d.enqueue(event)
	})
}

func (d *Dispatcher) enqueue(event Event) {
	for _, sink := range d.sinks {
		sink := sink
		d.pool.AddTask(worker.Task{
			Name: sink.Name() + ":" + event.Type,
			Run: func(ctx context.Context) error {
				err := sink.Send(ctx, event)
				if d.metrics != nil {
					d.metrics.RecordNotification(sink.Name(), err == nil)
				}
				return err
			},
		})
	}
	d.log.Debug("Notification queued",
		zap.String("type", event.Type),
		zap.Uint("recipient", event.RecipientID),
		zap.Int("sinks", len(d.sinks)),
	)
}
