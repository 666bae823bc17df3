package messaging

import (
	"github.com/pkg/errors"
	"github.com/streadway/amqp"
)

// ErrNotConnected is returned when the broker handle has no usable channel,
// either because the bootstrap has not finished or a reconnect is running.
var ErrNotConnected = errors.New("messaging: not connected to broker")

// ErrTransportLost is returned to in-flight operations when the broker
// connection drops underneath them.
var ErrTransportLost = errors.New("messaging: broker transport lost")

// Channel is the part of an AMQP channel the request/reply protocol uses.
// *amqp.Channel satisfies it.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ChannelProvider hands out the process-wide broker channel.
type ChannelProvider interface {
	Channel() (Channel, error)
}
