package relay

import (
	"context"
	"encoding/json"
	"errors"

	xerrors "OpenMCP-Wallet/internal/errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 事件交换机的连接参数。
type RabbitMQConfig struct {
	URL      string
	Exchange string
	Durable  bool
}

// amqpPublisher 是 RabbitMQSink 用到的 channel 能力，*amqp.Channel 满足该接口。
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQSink 将记录发布到 fanout 交换机，routing key 为事件名。
type RabbitMQSink struct {
	conn     *amqp.Connection
	ch       amqpPublisher
	exchange string
}

// NewRabbitMQSink 连接 RabbitMQ 并声明交换机。
func NewRabbitMQSink(cfg RabbitMQConfig) (*RabbitMQSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "openmcp.wallet.events"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeRelayFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeRelayFailure, err, "创建 RabbitMQ channel 失败")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, cfg.Durable, !cfg.Durable, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeRelayFailure, err, "声明 RabbitMQ 交换机失败")
	}
	return &RabbitMQSink{conn: conn, ch: ch, exchange: exchange}, nil
}

// Name implements Sink.
func (s *RabbitMQSink) Name() string { return "rabbitmq" }

// Deliver 发布一条持久化的 JSON 消息。
func (s *RabbitMQSink) Deliver(ctx context.Context, rec Record) error {
	if s == nil || s.ch == nil {
		return errors.New("RabbitMQ 事件通道未初始化")
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRelayFailure, err, "序列化事件失败")
	}
	err = s.ch.PublishWithContext(ctx, s.exchange, rec.Event, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    rec.ID,
		Timestamp:    rec.OccurredAt,
		Type:         rec.Event,
		AppId:        rec.Adapter,
		Body:         body,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRelayFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

// Close 关闭 RabbitMQ 连接。
func (s *RabbitMQSink) Close() error {
	if s == nil {
		return nil
	}
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
