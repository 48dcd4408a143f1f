package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQOptions RabbitMQ 参数
type RabbitMQOptions struct {
	URL       string
	QueueName string
	// Prefetch 预取数量，通常等于 Worker 数
	Prefetch int
	// MaxLength > 0 时声明 x-max-length 并拒绝溢出的发布，配合 publisher confirm 实现入队拒绝
	MaxLength int
}

// RabbitMQQueue RabbitMQ 队列实现
// 发布与消费各用一条连接；所有 Worker 共享一个 deliveries channel，由 QoS 控制并发
type RabbitMQQueue struct {
	opts   RabbitMQOptions
	logger *slog.Logger
	closed chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	publishConn    *amqp.Connection
	publishChannel *amqp.Channel
	publishMutex   sync.Mutex

	consumeConn    *amqp.Connection
	consumeChannel *amqp.Channel
	deliveries     <-chan amqp.Delivery

	// amqp.Channel 不是并发安全的，多个 Worker 可能同时 Ack
	ackMutex sync.Mutex
}

// NewRabbitMQQueue 创建 RabbitMQ 队列
func NewRabbitMQQueue(opts RabbitMQOptions, logger *slog.Logger) (*RabbitMQQueue, error) {
	if opts.QueueName == "" {
		opts.QueueName = "jkid_tasks"
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	rq := &RabbitMQQueue{
		opts:   opts,
		logger: logger,
		closed: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := rq.setupPublisher(); err != nil {
		cancel()
		return nil, fmt.Errorf("初始化发布者失败: %w", err)
	}

	if err := rq.setupConsumer(); err != nil {
		cancel()
		rq.closePublisher()
		return nil, fmt.Errorf("初始化消费者失败: %w", err)
	}

	logger.Info("✓ RabbitMQ 队列初始化成功", "queue", opts.QueueName, "prefetch", opts.Prefetch)
	return rq, nil
}

func (rq *RabbitMQQueue) queueArgs() amqp.Table {
	if rq.opts.MaxLength <= 0 {
		return nil
	}
	return amqp.Table{
		"x-max-length": int32(rq.opts.MaxLength),
		"x-overflow":   "reject-publish",
	}
}

func (rq *RabbitMQQueue) declare(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		rq.opts.QueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		rq.queueArgs(),
	)
	return err
}

func (rq *RabbitMQQueue) setupPublisher() error {
	conn, err := amqp.Dial(rq.opts.URL)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("创建 RabbitMQ Channel 失败: %w", err)
	}

	if err := rq.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("声明队列失败: %w", err)
	}

	if rq.opts.MaxLength > 0 {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("开启 publisher confirm 失败: %w", err)
		}
	}

	rq.publishConn = conn
	rq.publishChannel = ch
	return nil
}

func (rq *RabbitMQQueue) setupConsumer() error {
	conn, err := amqp.Dial(rq.opts.URL)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("创建 RabbitMQ Channel 失败: %w", err)
	}

	if err := rq.declare(ch); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("声明队列失败: %w", err)
	}

	if err := ch.Qos(rq.opts.Prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("设置 QoS 失败: %w", err)
	}

	deliveries, err := ch.Consume(
		rq.opts.QueueName,
		"", // 由服务端生成 consumer tag
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("启动消费失败: %w", err)
	}

	rq.consumeConn = conn
	rq.consumeChannel = ch
	rq.deliveries = deliveries
	return nil
}

// Enqueue 发布任务消息
func (rq *RabbitMQQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case <-rq.closed:
		return ErrQueueClosed
	default:
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rq.publishMutex.Lock()
	defer rq.publishMutex.Unlock()

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    job.TaskID,
		Body:         body,
		Timestamp:    time.Now(),
	}

	if rq.opts.MaxLength <= 0 {
		if err := rq.publishChannel.PublishWithContext(ctx, "", rq.opts.QueueName, false, false, msg); err != nil {
			return fmt.Errorf("发布消息失败: %w", err)
		}
		return nil
	}

	confirm, err := rq.publishChannel.PublishWithDeferredConfirmWithContext(ctx, "", rq.opts.QueueName, false, false, msg)
	if err != nil {
		return fmt.Errorf("发布消息失败: %w", err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("等待发布确认失败: %w", err)
	}
	if !acked {
		return ErrQueueFull
	}
	return nil
}

// Dequeue 从共享的 deliveries channel 取出一条消息
func (rq *RabbitMQQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-rq.closed:
			return nil, ErrQueueClosed
		case delivery, ok := <-rq.deliveries:
			if !ok {
				return nil, ErrQueueClosed
			}

			var job Job
			if err := json.Unmarshal(delivery.Body, &job); err != nil || job.TaskID == "" {
				// 无法解析的消息直接丢弃，不重新入队
				rq.logger.Warn("丢弃无法解析的消息", "delivery_tag", delivery.DeliveryTag, "error", err)
				rq.nackInternal(delivery.DeliveryTag, false)
				continue
			}
			job.delivery = &delivery
			return &job, nil
		}
	}
}

// Ack 确认消息
func (rq *RabbitMQQueue) Ack(job *Job) error {
	if job == nil || job.delivery == nil {
		return nil
	}
	rq.ackMutex.Lock()
	defer rq.ackMutex.Unlock()
	return rq.consumeChannel.Ack(job.delivery.DeliveryTag, false)
}

// Nack 拒绝消息
func (rq *RabbitMQQueue) Nack(job *Job, requeue bool) error {
	if job == nil || job.delivery == nil {
		return nil
	}
	return rq.nackInternal(job.delivery.DeliveryTag, requeue)
}

func (rq *RabbitMQQueue) nackInternal(deliveryTag uint64, requeue bool) error {
	rq.ackMutex.Lock()
	defer rq.ackMutex.Unlock()
	return rq.consumeChannel.Nack(deliveryTag, false, requeue)
}

// Close 关闭队列
func (rq *RabbitMQQueue) Close() error {
	select {
	case <-rq.closed:
		return nil
	default:
	}
	close(rq.closed)
	rq.cancel()

	if rq.consumeChannel != nil {
		rq.consumeChannel.Close()
	}
	if rq.consumeConn != nil {
		rq.consumeConn.Close()
	}
	rq.closePublisher()

	rq.logger.Info("✓ RabbitMQ 队列已关闭")
	return nil
}

func (rq *RabbitMQQueue) closePublisher() {
	if rq.publishChannel != nil {
		rq.publishChannel.Close()
	}
	if rq.publishConn != nil {
		rq.publishConn.Close()
	}
}

// Inspect 队列中的消息数与消费者数（调试用）
func (rq *RabbitMQQueue) Inspect() (messages, consumers int, err error) {
	rq.publishMutex.Lock()
	defer rq.publishMutex.Unlock()

	q, err := rq.publishChannel.QueueInspect(rq.opts.QueueName)
	if err != nil {
		return 0, 0, err
	}
	return q.Messages, q.Consumers, nil
}
