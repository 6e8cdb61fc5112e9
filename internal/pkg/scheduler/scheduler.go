// Package scheduler 进程内定时任务，按固定间隔串行执行
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job 定时任务
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout 单次执行超时，0 表示使用 Interval
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type Scheduler struct {
	jobs   []Job
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:    log.With(zap.String("component", "scheduler")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add 必须在 Start 之前调用
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.log.Warn("Job disabled, interval not set", zap.String("job", job.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(job)
	}
	s.log.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
}

// Stop 取消所有任务并等待在途执行结束
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(job)
		}
	}
}

func (s *Scheduler) runOnce(job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Job panicked", zap.String("job", job.Name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.log.Error("Job failed", zap.String("job", job.Name), zap.Error(err))
		return
	}
	s.log.Debug("Job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
}
