package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/z-wentao/jkid/pkg/queue"
)

// Runner 执行单个任务直到终态
type Runner interface {
	Run(ctx context.Context, taskID string)
}

// Pool 固定数量的 Worker 从队列消费任务
type Pool struct {
	queue  queue.Queue
	runner Runner
	size   int
	logger *slog.Logger

	// loopCtx 控制取任务，runCtx 控制正在执行的任务
	loopCtx    context.Context
	stopLoop   context.CancelFunc
	runCtx     context.Context
	cancelRuns context.CancelFunc
	wg         sync.WaitGroup
}

// NewPool 创建 Worker 池
func NewPool(q queue.Queue, runner Runner, size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	runCtx, cancelRuns := context.WithCancel(context.Background())

	return &Pool{
		queue:      q,
		runner:     runner,
		size:       size,
		logger:     logger,
		loopCtx:    loopCtx,
		stopLoop:   stopLoop,
		runCtx:     runCtx,
		cancelRuns: cancelRuns,
	}
}

// Start 启动所有 Worker
func (p *Pool) Start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	p.logger.Info("✓ Worker 池已启动", "size", p.size)
}

// Stop 停止取新任务，等待执行中的任务结束
// ctx 到期后取消仍在执行的任务
func (p *Pool) Stop(ctx context.Context) {
	p.logger.Info("正在停止 Worker 池...")
	p.stopLoop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("⚠️ 等待任务结束超时，取消执行中的任务")
		p.cancelRuns()
		<-done
	}
	p.cancelRuns()
	p.logger.Info("✓ Worker 池已停止")
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	logger := p.logger.With("worker", id)
	logger.Debug("Worker 已启动，等待任务")

	for {
		job, err := p.queue.Dequeue(p.loopCtx)
		if err != nil {
			if p.loopCtx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				logger.Debug("Worker 已退出")
				return
			}
			logger.Error("从队列获取任务失败", "error", err)
			select {
			case <-p.loopCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		p.process(logger, job)
	}
}

func (p *Pool) process(logger *slog.Logger, job *queue.Job) {
	start := time.Now()
	logger.Info("📝 开始处理任务", "task_id", job.TaskID)

	p.runner.Run(p.runCtx, job.TaskID)

	// 任务结果已写入 TaskStore，消息只需确认，不重新投递
	if err := p.queue.Ack(job); err != nil {
		logger.Error("确认消息失败", "task_id", job.TaskID, "error", err)
	}
	logger.Info("任务处理结束", "task_id", job.TaskID, "elapsed", time.Since(start).Round(time.Millisecond))
}
