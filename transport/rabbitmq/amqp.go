package rabbitmq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection is the part of an AMQP connection the adapter uses.
type Connection interface {
	Channel() (Channel, error)
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

// Channel wraps the AMQP channel operations with the arguments this adapter
// always uses.
type Channel interface {
	// DeclareExchange declares a durable topic exchange.
	DeclareExchange(name string) error
	// DeclareQueue declares a durable queue, or an exclusive auto-deleted
	// one when exclusive is set, and returns its (possibly server-assigned)
	// name.
	DeclareQueue(name string, exclusive bool) (string, error)
	Bind(queue, routingKey, exchange string) error
	Qos(prefetch int) error
	// Consume starts a manual-ack consumer.
	Consume(queue string) (<-chan amqp.Delivery, error)
	// Publish sends msg and waits for the broker confirm. acked is false
	// when the broker nacked the message.
	Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (acked bool, err error)
	Close() error
}

// Dial allows overriding the connection creation for testing.
var Dial = func(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &amqpConnection{conn: conn}, nil
}

type amqpConnection struct {
	conn *amqp.Connection
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &amqpChannel{ch: ch}, nil
}

func (c *amqpConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	return c.conn.NotifyClose(receiver)
}

func (c *amqpConnection) Close() error {
	return c.conn.Close()
}

type amqpChannel struct {
	ch          *amqp.Channel
	confirmOnce sync.Once
	confirmErr  error
}

func (c *amqpChannel) DeclareExchange(name string) error {
	return c.ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil)
}

func (c *amqpChannel) DeclareQueue(name string, exclusive bool) (string, error) {
	q, err := c.ch.QueueDeclare(name, !exclusive, exclusive, exclusive, false, nil)
	if err != nil {
		return "", err
	}
	return q.Name, nil
}

func (c *amqpChannel) Bind(queue, routingKey, exchange string) error {
	return c.ch.QueueBind(queue, routingKey, exchange, false, nil)
}

func (c *amqpChannel) Qos(prefetch int) error {
	return c.ch.Qos(prefetch, 0, false)
}

func (c *amqpChannel) Consume(queue string) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(queue, "", false, false, false, false, nil)
}

func (c *amqpChannel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) (bool, error) {
	c.confirmOnce.Do(func() {
		c.confirmErr = c.ch.Confirm(false)
	})
	if c.confirmErr != nil {
		return false, c.confirmErr
	}

	confirm, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		return false, err
	}
	if confirm == nil {
		return true, nil
	}
	return confirm.WaitContext(ctx)
}

func (c *amqpChannel) Close() error {
	return c.ch.Close()
}
