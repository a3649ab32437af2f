package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "DeafFirst-Hub/internal/errors"
)

// AMQPConfig 描述 RabbitMQ 发布参数。
type AMQPConfig struct {
	URL        string
	Queue      string
	Durable    bool
	AutoDelete bool
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink 将分发记录以 JSON 形式发布到 RabbitMQ 队列，供下游分析服务消费。
type AMQPSink struct {
	mu      sync.Mutex
	ch      publisher
	closer  func() error
	queue   string
	durable bool
}

// NewAMQPSink 连接 RabbitMQ 并声明队列。
func NewAMQPSink(cfg AMQPConfig) (*AMQPSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "deafhub.webhook_events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	sink := newAMQPSink(ch, queue, cfg.Durable)
	sink.closer = func() error {
		return errors.Join(ch.Close(), conn.Close())
	}
	return sink, nil
}

func newAMQPSink(ch publisher, queue string, durable bool) *AMQPSink {
	return &AMQPSink{ch: ch, queue: queue, durable: durable}
}

// Name 实现 Sink。
func (s *AMQPSink) Name() string { return "amqp" }

// Append 发布一条记录。
func (s *AMQPSink) Append(ctx context.Context, entry Entry) error {
	if s == nil || s.ch == nil {
		return errors.New("RabbitMQ Sink 未初始化")
	}
	entry.normalize()
	body, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "序列化分发日志失败")
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   entry.ID,
		Timestamp:   entry.OccurredAt,
		Type:        entry.Platform,
		Body:        body,
	}
	if s.durable {
		msg.DeliveryMode = amqp.Persistent
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ch.PublishWithContext(ctx, "", s.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "发布分发日志失败")
	}
	return nil
}

// Close 关闭 channel 与连接。
func (s *AMQPSink) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
