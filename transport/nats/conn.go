package nats

import (
	"context"

	"github.com/nats-io/nats.go"
)

// Conn is the part of a NATS connection the adapter uses.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	// Subscribe subscribes to subject, joining queue when it is not empty.
	Subscribe(subject, queue string, cb nats.MsgHandler) (Subscription, error)
	Close()
}

// Subscription is a broker-side subscription.
type Subscription interface {
	Unsubscribe() error
}

// Connect allows overriding the connection creation for testing.
var Connect = func(url string, opts ...nats.Option) (Conn, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &natsConn{nc: nc}, nil
}

type natsConn struct {
	nc *nats.Conn
}

func (c *natsConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *natsConn) FlushWithContext(ctx context.Context) error {
	return c.nc.FlushWithContext(ctx)
}

func (c *natsConn) Subscribe(subject, queue string, cb nats.MsgHandler) (Subscription, error) {
	if queue != "" {
		return c.nc.QueueSubscribe(subject, queue, cb)
	}
	return c.nc.Subscribe(subject, cb)
}

func (c *natsConn) Close() {
	c.nc.Close()
}
