package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/z-wentao/jkid/pkg/models"
	"github.com/z-wentao/jkid/pkg/queue"
)

// Dispatcher 把任务交给后台执行，不等待执行结果
type Dispatcher interface {
	Dispatch(ctx context.Context, job queue.Job) error
}

// TaskRunner 执行单个任务
type TaskRunner interface {
	Run(ctx context.Context, taskID string)
}

// Supervisor 接收提交、登记任务并分派执行
type Supervisor struct {
	store      Registry
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewSupervisor 创建 Supervisor
func NewSupervisor(store Registry, dispatcher Dispatcher, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{store: store, dispatcher: dispatcher, logger: logger}
}

// Submit 登记任务并分派，返回后任务 ID 立即可查询
// 分派失败时任务标记为 Failed，同时返回 ID 和错误
func (s *Supervisor) Submit(ctx context.Context, sourceRef string) (string, error) {
	if strings.TrimSpace(sourceRef) == "" {
		return "", ErrEmptySource
	}

	id := s.store.Create(sourceRef)
	job := queue.Job{TaskID: id, SourceRef: sourceRef, EnqueuedAt: time.Now()}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		msg := "任务调度失败: " + err.Error()
		if errors.Is(err, queue.ErrQueueFull) {
			msg = queue.ErrQueueFull.Error()
		}
		s.store.Update(id, models.TaskUpdate{Error: msg})
		s.logger.Warn("⚠️ 任务分派失败", "task_id", id, "error", err)
		return id, err
	}

	s.logger.Info("✓ 任务已提交", "task_id", id, "source", sourceRef)
	return id, nil
}

// GetTask 查询任务快照
func (s *Supervisor) GetTask(id string) (models.Task, bool) {
	return s.store.Get(id)
}

// ListTasks 列出所有任务（调试用）
func (s *Supervisor) ListTasks() []models.Task {
	return s.store.List()
}

// GoDispatcher 每个任务一个 goroutine，不限并发
type GoDispatcher struct {
	ctx    context.Context
	runner TaskRunner
	wg     sync.WaitGroup
}

// NewGoDispatcher ctx 控制所有后台任务的生命周期，与提交请求的 ctx 无关
func NewGoDispatcher(ctx context.Context, runner TaskRunner) *GoDispatcher {
	return &GoDispatcher{ctx: ctx, runner: runner}
}

func (d *GoDispatcher) Dispatch(_ context.Context, job queue.Job) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runner.Run(d.ctx, job.TaskID)
	}()
	return nil
}

// Wait 等待所有后台任务结束，ctx 到期则提前返回 false
func (d *GoDispatcher) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// QueueDispatcher 入队后由 worker.Pool 消费
type QueueDispatcher struct {
	queue queue.Queue
}

// NewQueueDispatcher 创建基于队列的分派器
func NewQueueDispatcher(q queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, job queue.Job) error {
	return d.queue.Enqueue(ctx, job)
}
