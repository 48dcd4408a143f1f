package queue

import (
	"context"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrQueueFull 队列已满，任务被拒绝
	ErrQueueFull = errors.New("任务队列已满")
	// ErrQueueClosed 队列已关闭
	ErrQueueClosed = errors.New("任务队列已关闭")
)

// Job 队列消息，只携带任务 ID 和图片引用，任务状态始终以 TaskStore 为准
type Job struct {
	TaskID     string    `json:"task_id"`
	SourceRef  string    `json:"source_ref"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	delivery *amqp.Delivery
}

// Queue 任务队列接口
type Queue interface {
	// Enqueue 入队，不阻塞；队列满返回 ErrQueueFull
	Enqueue(ctx context.Context, job Job) error

	// Dequeue 出队（阻塞直到有任务、ctx 取消或队列关闭）
	Dequeue(ctx context.Context) (*Job, error)

	// Ack 确认消息（任务已处理到终态）
	Ack(job *Job) error

	// Nack 拒绝消息
	// requeue: 是否重新入队
	Nack(job *Job, requeue bool) error

	// Close 关闭队列
	Close() error
}
