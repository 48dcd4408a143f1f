package queue

import (
	"context"
	"sync"
)

// MemoryQueue 基于 Channel 的内存队列
type MemoryQueue struct {
	mu     sync.RWMutex
	closed bool
	queue  chan Job
}

// NewMemoryQueue 创建内存队列
func NewMemoryQueue(bufferSize int) *MemoryQueue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &MemoryQueue{
		queue: make(chan Job, bufferSize),
	}
}

// Enqueue 将任务加入队列
func (mq *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	mq.mu.RLock()
	defer mq.mu.RUnlock()

	if mq.closed {
		return ErrQueueClosed
	}

	select {
	case mq.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue 从队列取出任务（阻塞等待）
func (mq *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-mq.queue:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &job, nil
	}
}

// Ack 内存队列无需确认
func (mq *MemoryQueue) Ack(*Job) error { return nil }

// Nack 内存队列只支持重新入队
func (mq *MemoryQueue) Nack(job *Job, requeue bool) error {
	if !requeue || job == nil {
		return nil
	}
	return mq.Enqueue(context.Background(), *job)
}

// Len 队列中等待的任务数
func (mq *MemoryQueue) Len() int {
	return len(mq.queue)
}

// Close 关闭队列，已入队的任务仍可被取出
func (mq *MemoryQueue) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if !mq.closed {
		mq.closed = true
		close(mq.queue)
	}
	return nil
}
