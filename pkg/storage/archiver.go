package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/z-wentao/jkid/pkg/models"
)

// ArchiverOptions 批量写入参数
type ArchiverOptions struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	CloseTimeout  time.Duration
}

func (o *ArchiverOptions) withDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 100
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.CloseTimeout <= 0 {
		o.CloseTimeout = 5 * time.Second
	}
}

// Archiver 异步把终态任务写入归档库
// 满 BatchSize 条或每 FlushInterval 写一次；Submit 永不阻塞调用方
type Archiver struct {
	repo   ArchiveRepository
	opts   ArchiverOptions
	logger *slog.Logger

	// mu 保证 Close 之后不再有任务写入 queue
	mu        sync.RWMutex
	closed    bool
	queue     chan models.Task
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// ErrCloseTimeout 关闭时未能在 CloseTimeout 内写完剩余任务
var ErrCloseTimeout = errors.New("归档关闭超时")

// NewArchiver 创建并启动后台同步 goroutine
func NewArchiver(repo ArchiveRepository, opts ArchiverOptions, logger *slog.Logger) *Archiver {
	opts.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	a := &Archiver{
		repo:   repo,
		opts:   opts,
		logger: logger,
		queue:  make(chan models.Task, opts.QueueSize),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

// Submit 加入待归档队列，队列满时丢弃并记录
func (a *Archiver) Submit(task models.Task) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.logger.Warn("归档已关闭，丢弃任务", "task_id", task.ID)
		return
	}

	select {
	case a.queue <- task:
	default:
		a.logger.Warn("⚠️ 归档队列已满，丢弃任务", "task_id", task.ID, "status", task.Status)
	}
}

// Recent 透传给归档库
func (a *Archiver) Recent(ctx context.Context, limit int) ([]models.Task, error) {
	return a.repo.Recent(ctx, limit)
}

// Close 停止后台 goroutine，写完剩余数据后关闭归档库
// 超时返回 ErrCloseTimeout，归档库在后台 goroutine 退出后再关闭
func (a *Archiver) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.stopCh)
		a.mu.Unlock()

		select {
		case <-a.done:
		case <-time.After(a.opts.CloseTimeout):
			a.logger.Warn("⚠️ 归档队列清空超时", "remaining", len(a.queue))
			err = ErrCloseTimeout
			go func() {
				<-a.done
				if err := a.repo.Close(); err != nil {
					a.logger.Warn("⚠️ 关闭归档库失败", "error", err)
				}
			}()
			return
		}

		err = a.repo.Close()
		a.logger.Info("✓ 归档已关闭")
	})
	return err
}

func (a *Archiver) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.Task, 0, a.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		a.save(batch)
		batch = batch[:0]
	}

	for {
		select {
		case task := <-a.queue:
			batch = append(batch, task)
			if len(batch) >= a.opts.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-a.stopCh:
			for {
				select {
				case task := <-a.queue:
					batch = append(batch, task)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (a *Archiver) save(batch []models.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.repo.SaveBatch(ctx, batch); err != nil {
		a.logger.Error("❌ 批量归档失败", "count", len(batch), "error", err)
		return
	}
	a.logger.Debug("✓ 批量归档完成", "count", len(batch))
}
