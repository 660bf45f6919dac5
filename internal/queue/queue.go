package queue

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

// Exchange is the topic exchange gateway events are published on.
const Exchange = "whygraph_events"

type Config struct {
	User     string
	Password string
	Host     string
	Port     string
}

func (c Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/",
	}
	return u.String()
}

func Init(c Config) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(c.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

type exchangeDeclarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
}

type publisher interface {
	exchangeDeclarer
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type subscriber interface {
	exchangeDeclarer
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp091.Table) (<-chan amqp091.Delivery, error)
}

func declareExchange(ch exchangeDeclarer) error {
	return ch.ExchangeDeclare(
		Exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
}

func PublishTopic(ctx context.Context, ch publisher, topic string, data []byte) error {
	if err := declareExchange(ch); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}

	return ch.PublishWithContext(
		ctx,
		Exchange,
		topic,
		false,
		false,
		publishing,
	)
}

// SubscribeTopic binds a private, auto-deleted queue to topic and passes every
// message body to handle until ctx is done or the channel closes.
func SubscribeTopic(ctx context.Context, ch subscriber, topic string, handle func([]byte) error) error {
	if err := declareExchange(ch); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // autoDelete
		true,  // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare subscriber queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s to %s: %w", q.Name, topic, err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"",    // consumer tag
		true,  // autoAck
		true,  // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming %s: %w", topic, err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping subscriber", "topic", topic)
			return nil
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "topic", topic)
				return nil
			}
			if err := handle(msg.Body); err != nil {
				logger.Error("Error handling message", "topic", topic, "err", err)
			}
		}
	}
}
