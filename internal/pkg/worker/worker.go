package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task 异步任务
type Task struct {
	Name  string
	Run   func(ctx context.Context) error
	Retry int // 重试次数
}

type WorkerPool struct {
	TaskQueue  chan Task
	RetryQueue chan Task // 重试队列
	WorkerNum  int
	MaxRetry   int // 最大重试次数

	// RetryDelay 第 n 次重试前等待 n*RetryDelay
	RetryDelay  time.Duration
	// TaskTimeout 单次执行超时
	TaskTimeout time.Duration

	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	retryDone chan struct{}
	onFailed  func(task Task, err error)
}

func NewWorkerPool(log *zap.Logger, workerNum int, bufferSize int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		TaskQueue:   make(chan Task, bufferSize),
		RetryQueue:  make(chan Task, bufferSize/2+1),
		WorkerNum:   workerNum,
		MaxRetry:    3, // 最多重试3次
		RetryDelay:  time.Second,
		TaskTimeout: 10 * time.Second,
		log:         log.With(zap.String("component", "worker")),
		ctx:         ctx,
		cancel:      cancel,
		retryDone:   make(chan struct{}),
	}
}

// OnDeadLetter 任务最终失败时的回调
func (p *WorkerPool) OnDeadLetter(fn func(task Task, err error)) {
	p.onFailed = fn
}

func (p *WorkerPool) Start() {
	for i := 0; i < p.WorkerNum; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	// 启动重试处理协程
	go p.retryWorker()
	p.log.Info("Worker pool started", zap.Int("workers", p.WorkerNum))
}

// Stop 停止重试并等待在途任务结束，调用前需停止 AddTask
func (p *WorkerPool) Stop() {
	p.cancel()
	<-p.retryDone
	close(p.TaskQueue)
	p.wg.Wait()
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()
	for task := range p.TaskQueue {
		err := p.processTask(task)
		if err == nil {
			continue
		}
		p.log.Warn("Failed to process task",
			zap.Int("worker", id),
			zap.String("task", task.Name),
			zap.Int("attempt", task.Retry),
			zap.Error(err),
		)

		// 如果未达到最大重试次数，加入重试队列
		if task.Retry < p.MaxRetry && p.ctx.Err() == nil {
			task.Retry++
			select {
			case p.RetryQueue <- task:
			default:
				p.logFailedTask(task, err)
			}
		} else {
			p.logFailedTask(task, err)
		}
	}
}

func (p *WorkerPool) retryWorker() {
	defer close(p.retryDone)
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.RetryQueue:
			// 延迟重试，避免立即重试
			select {
			case <-p.ctx.Done():
				p.logFailedTask(task, p.ctx.Err())
				return
			case <-time.After(time.Duration(task.Retry) * p.RetryDelay):
			}

			// 重新加入主队列
			select {
			case p.TaskQueue <- task:
			default:
				p.logFailedTask(task, nil)
			}
		}
	}
}

func (p *WorkerPool) processTask(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Task panicked", zap.String("task", task.Name), zap.Any("panic", r))
			err = errPanic
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.TaskTimeout)
	defer cancel()
	return task.Run(ctx)
}

func (p *WorkerPool) logFailedTask(task Task, err error) {
	p.log.Error("Task failed permanently",
		zap.String("task", task.Name),
		zap.Int("attempts", task.Retry),
		zap.Error(err),
	)
	if p.onFailed != nil {
		p.onFailed(task, err)
	}
}

// AddTask 入队，队列满时直接进入死信
func (p *WorkerPool) AddTask(task Task) {
	if p.ctx.Err() != nil {
		p.logFailedTask(task, p.ctx.Err())
		return
	}
	select {
	case p.TaskQueue <- task:
		// 任务入队成功
	default:
		p.logFailedTask(task, errQueueFull)
	}
}
